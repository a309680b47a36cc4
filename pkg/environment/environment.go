package environment

import (
	"os"
	"strconv"

	"github.com/streamscale/experiment-runner/pkg/types"
)

// GetENV fetches all the env variables of the runner
func GetENV(runnerDetails *types.RunnerDetails) {
	runnerDetails.KubeConfigPath = Getenv("KUBECONFIG_PATH", "")
	runnerDetails.Namespace = Getenv("EXPERIMENT_NAMESPACE", "streamscale")
	runnerDetails.RunnerPodName = Getenv("POD_NAME", "")
	runnerDetails.BrokerURL = Getenv("MQTT_BROKER_URL", "tcp://127.0.0.1:1883")
	runnerDetails.ClientID = Getenv("MQTT_CLIENT_ID", "experiment-runner")
	runnerDetails.CommandTopic = Getenv("MQTT_COMMAND_TOPIC", "experiment/command")
	runnerDetails.AckTopic = Getenv("MQTT_ACK_TOPIC", "experiment/ack")
	runnerDetails.StateTopic = Getenv("MQTT_STATE_TOPIC", "experiment/state")
	runnerDetails.InfluxURL = Getenv("INFLUX_URL", "")
	runnerDetails.InfluxToken = Getenv("INFLUX_TOKEN", "")
	runnerDetails.InfluxOrg = Getenv("INFLUX_ORG", "streamscale")
	runnerDetails.InfluxBucket = Getenv("INFLUX_BUCKET", "experiments")
	runnerDetails.OutputDir = Getenv("OUTPUT_DIR", "./results")
	runnerDetails.Delay, _ = strconv.Atoi(Getenv("STATUS_CHECK_DELAY", "2"))
	runnerDetails.Timeout, _ = strconv.Atoi(Getenv("STATUS_CHECK_TIMEOUT", "180"))
}

// Getenv fetch the env and set the default value, if any
func Getenv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	return value
}
