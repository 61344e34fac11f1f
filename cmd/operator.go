/*


Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/3scale-ops/oci-cert-sync/controllers"
	"github.com/3scale-ops/oci-cert-sync/pkg/config"
	"github.com/3scale-ops/oci-cert-sync/pkg/identity"
	"github.com/3scale-ops/oci-cert-sync/pkg/metrics"
	"github.com/3scale-ops/oci-cert-sync/pkg/oci"
	reconcilers "github.com/3scale-ops/oci-cert-sync/pkg/reconcilers/certificate"
	"github.com/3scale-ops/oci-cert-sync/pkg/retry"
	"github.com/3scale-ops/oci-cert-sync/pkg/util/clock"
	"github.com/spf13/cobra"
	apimachineryruntime "k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"
)

var (
	leaderElect             bool
	configFile              string
	maxConcurrentReconciles int
	operatorScheme          = apimachineryruntime.NewScheme()
)

var (
	// Operator subcommand
	operatorCmd = &cobra.Command{
		Use:   "operator",
		Short: "Run the operator",
		Run:   runOperator,
	}
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(operatorScheme))

	rootCmd.AddCommand(operatorCmd)

	// Operator flags
	operatorCmd.Flags().BoolVar(&leaderElect, "leader-elect", false,
		"Enable leader election for controller manager. Enabling this will ensure there is only one active controller manager.")
	operatorCmd.Flags().StringVar(&configFile, "config", "", "Path to the operator configuration file.")
	operatorCmd.Flags().IntVar(&maxConcurrentReconciles, "max-concurrent-reconciles", 0,
		"Number of secrets handled concurrently. Overrides the configuration file.")
}

func runOperator(cmd *cobra.Command, args []string) {

	ctrl.SetLogger(zap.New(zap.UseDevMode(debug)))
	printVersion()

	opcfg, err := config.Load(configFile)
	if err != nil {
		setupLog.Error(err, "unable to load configuration")
		os.Exit(1)
	}
	if maxConcurrentReconciles > 0 {
		opcfg.MaxConcurrentReconciles = maxConcurrentReconciles
	}

	compartmentID, err := resolveCompartment(context.Background(), opcfg, oci.InstancePrincipals)
	if err != nil {
		setupLog.Error(err, "unable to resolve the identity of the operator")
		os.Exit(1)
	}

	// credentials are acquired when the first certificate operation runs
	certificatesClient := oci.NewCertificatesClient(oci.InstancePrincipals, opcfg.RequestTimeout.Duration)

	watchNamespace, err := getWatchNamespace()
	if err != nil {
		setupLog.Info(fmt.Sprintf("%s, the manager will watch and manage resources in all Namespaces", err.Error()))
	}

	options := ctrl.Options{
		Scheme:                 operatorScheme,
		Metrics:                metricsserver.Options{BindAddress: metricsAddr},
		HealthProbeBindAddress: probeAddr,
		LeaderElection:         leaderElect,
		LeaderElectionID:       "5b3e1a7c.oci-cert-sync.oraclecloud.com",
	}

	if watchNamespace == "" {
		setupLog.Info("manager in Cluster scope mode will be watching all namespaces")
	} else {
		setupLog.Info(fmt.Sprintf("manager will be watching namespaces %q", watchNamespace))
		namespaces := map[string]cache.Config{}
		for _, ns := range strings.Split(watchNamespace, ",") {
			namespaces[ns] = cache.Config{}
		}
		options.Cache = cache.Options{DefaultNamespaces: namespaces}
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), options)
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	recorder := metrics.New()
	if err := recorder.Register(ctrlmetrics.Registry); err != nil {
		setupLog.Error(err, "unable to register metrics")
		os.Exit(1)
	}

	syncer := reconcilers.NewSyncer(certificatesClient, compartmentID, opcfg.RetryPolicy(), clock.Real{})

	if err := (&controllers.SecretReconciler{
		Client:                  mgr.GetClient(),
		Log:                     ctrl.Log.WithName("controllers").WithName("secret"),
		Scheme:                  mgr.GetScheme(),
		Recorder:                mgr.GetEventRecorderFor("oci-cert-sync"),
		Handlers:                syncer.DispatchTable(),
		Attempts:                retry.NewTracker(time.Hour),
		Metrics:                 recorder,
		SyncLabels:              opcfg.SyncLabels(),
		MaxConcurrentReconciles: opcfg.MaxConcurrentReconciles,
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "secret")
		os.Exit(1)
	}

	if err := mgr.AddHealthzCheck("health", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("check", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting the Operator.", "compartment", compartmentID)
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "controller manager exited non-zero")
		os.Exit(1)
	}
}

// resolveCompartment returns the compartment where certificates are created.
// Credentials are only acquired when the compartment needs to be discovered.
func resolveCompartment(ctx context.Context, opcfg config.Config, provider oci.ProviderFunc) (string, error) {
	resolver := &identity.Resolver{
		CompartmentID:    opcfg.CompartmentID,
		MetadataEndpoint: opcfg.MetadataEndpoint,
		HTTPClient:       &http.Client{},
		Timeout:          opcfg.RequestTimeout.Duration,
		Log:              ctrl.Log.WithName("identity"),
	}

	if resolver.CompartmentID == "" {
		p, err := provider()
		if err != nil {
			return "", &identity.Error{Step: "credentials", Err: err}
		}
		clusters, err := oci.NewClusterClient(p, opcfg.RequestTimeout.Duration)
		if err != nil {
			return "", &identity.Error{Step: "cluster lookup", Err: err}
		}
		resolver.Clusters = clusters
	}

	return resolver.Resolve(ctx)
}

// getWatchNamespace returns the Namespace the operator should be watching for changes
func getWatchNamespace() (string, error) {

	ns, found := os.LookupEnv(watchNamespaceEnvVar)
	if !found {
		return "", fmt.Errorf("%s is not set", watchNamespaceEnvVar)
	}
	return ns, nil
}
