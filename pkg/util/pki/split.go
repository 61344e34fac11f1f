package pki

import "strings"

// CertificateBeginMarker is the line that opens every PEM encoded certificate
const CertificateBeginMarker = "-----BEGIN CERTIFICATE-----"

// SplitBundle decomposes a PEM bundle into its certificate blocks, keeping the
// order in which they appear. Every returned block starts with the begin marker.
// Anything found before the first marker is discarded. An empty input or an input
// without markers returns an empty slice.
func SplitBundle(bundle string) []string {
	fragments := strings.Split(bundle, CertificateBeginMarker)

	blocks := make([]string, 0, len(fragments)-1)
	for _, fragment := range fragments[1:] {
		blocks = append(blocks, CertificateBeginMarker+fragment)
	}

	return blocks
}

// LeafAndChain splits a PEM bundle into the leaf certificate (the first block) and
// the chain (all the remaining blocks joined with a newline). The returned bool is
// false when the bundle does not hold at least two certificates.
func LeafAndChain(bundle string) (string, string, bool) {
	blocks := SplitBundle(bundle)
	if len(blocks) < 2 {
		return "", "", false
	}

	return blocks[0], strings.Join(blocks[1:], "\n"), true
}
