package supervisor

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/conductor-sh/conductor/pkg/config"
	"github.com/conductor-sh/conductor/pkg/types"
)

// resourceSampler reads point-in-time CPU and memory percentages for a
// set of pids through ps(1). Sampling is strictly best effort: any
// failure yields an unsampled reading, never an error.
type resourceSampler struct {
	psBin   string
	timeout time.Duration
}

func newResourceSampler(settings *config.Settings) *resourceSampler {
	return &resourceSampler{
		psBin:   settings.Supervisor.PSBinary,
		timeout: settings.Host.CallTimeout,
	}
}

// sample sums %cpu and %mem over the given pids
func (r *resourceSampler) sample(pids []int) types.ResourceSample {
	if len(pids) == 0 {
		return types.ResourceSample{}
	}

	strs := make([]string, len(pids))
	for i, pid := range pids {
		strs[i] = strconv.Itoa(pid)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, r.psBin,
		"-o", "pcpu=,pmem=", "-p", strings.Join(strs, ",")).Output()
	if err != nil {
		return types.ResourceSample{}
	}

	var sample types.ResourceSample
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		cpu, err1 := strconv.ParseFloat(fields[0], 64)
		mem, err2 := strconv.ParseFloat(fields[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		sample.CPUPercent += cpu
		sample.MemPercent += mem
		sample.Sampled = true
	}
	return sample
}
