package types

// RunnerDetails is for collecting all the runner-level settings, it is
// populated once at startup from the environment
type RunnerDetails struct {
	KubeConfigPath string
	Namespace      string
	RunnerPodName  string
	BrokerURL      string
	ClientID       string
	CommandTopic   string
	AckTopic       string
	StateTopic     string
	InfluxURL      string
	InfluxToken    string
	InfluxOrg      string
	InfluxBucket   string
	OutputDir      string
	Timeout        int
	Delay          int
}
