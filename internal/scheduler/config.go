package scheduler

import "time"

type Config struct {
	Type    Backend `validate:"required"`
	Remote  RemoteConfig
	Cluster ClusterConfig
	Kube    KubeConfig
	// How long a detached or queued job may go without a control file before it is failed.
	// Detached jobs are measured from submission, queued jobs from the moment the queue stops listing
	// them. Zero waits forever.
	SentinelTimeout time.Duration `validate:"gte=0"`
	// How long queue status answers are reused. Zero queries the queue on every poll.
	StatusCacheTtl time.Duration `validate:"gte=0"`
}

type RemoteConfig struct {
	// user@host
	Host       string
	SshOptions []string
	// Experiment directory on the remote host. Defaults to the local experiment directory.
	ExperimentDir string
}

type ClusterConfig struct {
	Walltime      string
	ClusterScript string
	Output        bool
	Options       []string
}

type KubeConfig struct {
	Namespace  string
	Image      string
	Kubeconfig string
	// The experiment directory is mounted into every job pod, either from a claim or from a host path.
	VolumeClaim string
	HostPath    string
	MountPath   string
	// Seconds a finished kubernetes job is kept before the cluster deletes it.
	TtlSecondsAfterFinished *int32
}

// RetryConfig bounds submission attempts of one job.
type RetryConfig struct {
	MaxAttempts uint          `validate:"gte=1"`
	Delay       time.Duration `validate:"gte=0"`
}

var DefaultRetryConfig = RetryConfig{
	MaxAttempts: 10,
	Delay:       2 * time.Second,
}
