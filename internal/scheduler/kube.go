package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	batchv1 "k8s.io/api/batch/v1"
	v1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/common/uqerrors"
	"github.com/uqdispatch/uqdispatch/internal/driver"
	"github.com/uqdispatch/uqdispatch/internal/job"
)

const (
	experimentLabel = "uqdispatch/experiment"
	batchLabel      = "uqdispatch/batch"
	jobIdLabel      = "uqdispatch/job-id"
	volumeName      = "experiment"
)

var invalidNameChars = regexp.MustCompile(`[^a-z0-9-]+`)

// kubeLauncher runs every job as a kubernetes batch/v1 Job. The experiment directory is mounted into
// the pod at the same path, so the control file is visible on this machine once written.
type kubeLauncher struct {
	client    kubernetes.Interface
	config    KubeConfig
	driver    *driver.Driver
	sentinel  *sentinelWatcher
	namespace string
}

func newKubeLauncher(_ *uqcontext.Context, config Config, d *driver.Driver, opts Options) (launcher, error) {
	if config.Kube.Image == "" {
		return nil, errors.WithStack(&uqerrors.ErrInvalidArgument{
			Name:    "scheduler.kube.image",
			Value:   config.Kube.Image,
			Message: "an image is required for the kube scheduler",
		})
	}
	namespace := config.Kube.Namespace
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}
	return &kubeLauncher{
		client: opts.KubeClient,
		config: config.Kube,
		driver: d,
		sentinel: &sentinelWatcher{
			driver:    d,
			transport: d.Transport(),
			clock:     opts.Clock,
			timeout:   config.SentinelTimeout,
		},
		namespace: namespace,
	}, nil
}

func kubeName(experimentName string) string {
	name := strings.Trim(invalidNameChars.ReplaceAllString(strings.ToLower(experimentName), "-"), "-")
	if len(name) > 40 {
		name = strings.TrimRight(name[:40], "-")
	}
	if name == "" {
		name = "uq"
	}
	return name
}

func (l *kubeLauncher) jobSpec(j *job.Job) *batchv1.Job {
	experiment := kubeName(j.ExperimentName)
	name := fmt.Sprintf("%s-%d-%d-%s", experiment, j.Batch, j.Id, uuid.New().String()[:8])
	mountPath := l.config.MountPath
	if mountPath == "" {
		mountPath = l.driver.ExperimentDir()
	}
	volume := v1.Volume{Name: volumeName}
	if l.config.VolumeClaim != "" {
		volume.VolumeSource = v1.VolumeSource{
			PersistentVolumeClaim: &v1.PersistentVolumeClaimVolumeSource{ClaimName: l.config.VolumeClaim},
		}
	} else {
		hostPath := l.config.HostPath
		if hostPath == "" {
			hostPath = l.driver.ExperimentDir()
		}
		volume.VolumeSource = v1.VolumeSource{
			HostPath: &v1.HostPathVolumeSource{Path: hostPath},
		}
	}
	backoffLimit := int32(0)
	labels := map[string]string{
		experimentLabel: experiment,
		batchLabel:      strconv.Itoa(j.Batch),
		jobIdLabel:      strconv.Itoa(j.Id),
	}
	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: l.namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            &backoffLimit,
			TTLSecondsAfterFinished: l.config.TtlSecondsAfterFinished,
			Template: v1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: v1.PodSpec{
					RestartPolicy: v1.RestartPolicyNever,
					Containers: []v1.Container{
						{
							Name:         "model",
							Image:        l.config.Image,
							Command:      l.driver.ContainerCommand(j),
							WorkingDir:   l.driver.Paths(j).JobDir,
							VolumeMounts: []v1.VolumeMount{{Name: volumeName, MountPath: mountPath}},
						},
					},
					Volumes: []v1.Volume{volume},
				},
			},
		},
	}
}

func (l *kubeLauncher) launch(ctx *uqcontext.Context, j *job.Job) error {
	spec := l.jobSpec(j)
	created, err := l.client.BatchV1().Jobs(l.namespace).Create(ctx, spec, metav1.CreateOptions{})
	if err != nil {
		return errors.WithStack(err)
	}
	j.ProcessId = created.Name
	ctx.Log.Infof("created kubernetes job %s/%s", l.namespace, created.Name)
	return nil
}

func (l *kubeLauncher) poll(ctx *uqcontext.Context, j *job.Job) {
	if l.sentinel.check(ctx, j) {
		return
	}
	kubeJob, err := l.client.BatchV1().Jobs(l.namespace).Get(ctx, j.ProcessId, metav1.GetOptions{})
	switch {
	case k8serrors.IsNotFound(err):
		if l.sentinel.expired(j.StartTime) {
			l.sentinel.fail(ctx, j, fmt.Sprintf("kubernetes job %s disappeared without a control file", j.ProcessId))
		}
	case err != nil:
		ctx.Log.WithError(err).Warnf("could not get kubernetes job %s", j.ProcessId)
	case kubeJob.Status.Failed > 0:
		l.sentinel.fail(ctx, j, fmt.Sprintf("kubernetes job %s failed", j.ProcessId))
	}
}

func (l *kubeLauncher) alive(ctx *uqcontext.Context, j *job.Job) bool {
	kubeJob, err := l.client.BatchV1().Jobs(l.namespace).Get(ctx, j.ProcessId, metav1.GetOptions{})
	if k8serrors.IsNotFound(err) {
		return false
	}
	if err != nil {
		ctx.Log.WithError(err).Warnf("could not get kubernetes job %s", j.ProcessId)
		return true
	}
	return kubeJob.Status.Succeeded == 0 && kubeJob.Status.Failed == 0
}
