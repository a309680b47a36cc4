package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/streamscale/experiment-runner/pkg/clients"
	"github.com/streamscale/experiment-runner/pkg/cluster"
	"github.com/streamscale/experiment-runner/pkg/dispatcher"
	"github.com/streamscale/experiment-runner/pkg/environment"
	"github.com/streamscale/experiment-runner/pkg/events"
	"github.com/streamscale/experiment-runner/pkg/experiment"
	"github.com/streamscale/experiment-runner/pkg/export"
	"github.com/streamscale/experiment-runner/pkg/log"
	"github.com/streamscale/experiment-runner/pkg/types"
)

var kubeconfig string

func init() {
	// Log as text with full timestamps, entries are consumed from the pod logs
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:          true,
		DisableSorting:         true,
		DisableLevelTruncation: true,
	})
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "experiment-runner",
		Short: "Drives stream-processing autoscaling experiments over a cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
		SilenceUsage: true,
	}
	rootCmd.Flags().StringVar(&kubeconfig, "kubeconfig", "", "absolute path to the kubeconfig file, in-cluster config if unset")

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Runner terminated, err: %v", err)
	}
}

func run() error {

	runnerDetails := types.RunnerDetails{}
	environment.GetENV(&runnerDetails)
	if kubeconfig == "" {
		kubeconfig = runnerDetails.KubeConfigPath
	}

	clientSets := clients.ClientSets{}
	if err := clientSets.GenerateClientSetFromKubeConfig(kubeconfig); err != nil {
		return err
	}

	clusterClient := cluster.NewClient(clientSets, runnerDetails.Namespace, runnerDetails.Timeout, runnerDetails.Delay)

	opts := experiment.Options{
		Cluster:   clusterClient,
		OutputDir: runnerDetails.OutputDir,
	}
	if runnerDetails.RunnerPodName != "" {
		opts.Recorder = events.NewRecorder(clientSets, runnerDetails.Namespace, runnerDetails.RunnerPodName)
	}
	if runnerDetails.InfluxURL != "" {
		exporter := export.NewInfluxExporter(runnerDetails.InfluxURL, runnerDetails.InfluxToken, runnerDetails.InfluxOrg, runnerDetails.InfluxBucket)
		defer exporter.Close()
		opts.Exporter = exporter
	}
	engine := experiment.New(opts)

	messenger, err := dispatcher.ConnectMQTT(runnerDetails.BrokerURL, runnerDetails.ClientID)
	if err != nil {
		return err
	}
	defer messenger.Disconnect()

	commandDispatcher := dispatcher.New(engine, messenger, dispatcher.Topics{
		Command: runnerDetails.CommandTopic,
		Ack:     runnerDetails.AckTopic,
		State:   runnerDetails.StateTopic,
	})
	if err := commandDispatcher.Start(); err != nil {
		return err
	}
	log.InfoWithValues("[Runner]: Listening for experiment commands", map[string]interface{}{
		"Broker": runnerDetails.BrokerURL, "CommandTopic": runnerDetails.CommandTopic})

	// block until termination, then converge the cluster back to idle
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	log.Infof("[Runner]: Received '%s', cleaning up before exit", sig)

	if err := engine.Trigger(experiment.TriggerClean); err != nil {
		log.Errorf("[Runner]: Cleanup on shutdown failed, err: %v", err)
	}
	return nil
}
