package scheduler

import (
	"strings"

	"github.com/pkg/errors"
)

// Backend selects how jobs are executed. The set is closed; New maps each value to its constructor.
type Backend string

const (
	LocalBackend       Backend = "local"
	LocalNohupBackend  Backend = "local_nohup"
	LocalPbsBackend    Backend = "local_pbs"
	LocalSlurmBackend  Backend = "local_slurm"
	RemoteBackend      Backend = "remote"
	RemoteNohupBackend Backend = "remote_nohup"
	RemotePbsBackend   Backend = "remote_pbs"
	RemoteSlurmBackend Backend = "remote_slurm"
	KubeBackend        Backend = "kube"
)

var AllBackends = []Backend{
	LocalBackend,
	LocalNohupBackend,
	LocalPbsBackend,
	LocalSlurmBackend,
	RemoteBackend,
	RemoteNohupBackend,
	RemotePbsBackend,
	RemoteSlurmBackend,
	KubeBackend,
}

func ParseBackend(s string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllBackends {
		if b == known {
			return b, nil
		}
	}
	return "", errors.Errorf("unknown scheduler type %q", s)
}

func (b *Backend) UnmarshalText(text []byte) error {
	parsed, err := ParseBackend(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// IsRemote is true for backends that execute over ssh.
func (b Backend) IsRemote() bool {
	return strings.HasPrefix(string(b), "remote")
}

// QueueKind returns the batch system of queue backends.
func (b Backend) QueueKind() (QueueKind, bool) {
	switch b {
	case LocalPbsBackend, RemotePbsBackend:
		return PbsQueue, true
	case LocalSlurmBackend, RemoteSlurmBackend:
		return SlurmQueue, true
	default:
		return "", false
	}
}
