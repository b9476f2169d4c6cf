package watchdog

import (
	"github.com/robfig/cron/v3"
)

// CronEngine abstracts the cron scheduler for testability.
type CronEngine interface {
	AddFunc(spec string, cmd func()) (int, error)
	Remove(id int)
	Start()
	Stop()
}

// RobfigCronEngine adapts robfig/cron/v3 to CronEngine. Overlapping runs of
// the same entry are skipped.
type RobfigCronEngine struct {
	c *cron.Cron
}

// NewRobfigCronEngine creates an engine accepting @every and 5-field specs.
func NewRobfigCronEngine() *RobfigCronEngine {
	return &RobfigCronEngine{
		c: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

func (r *RobfigCronEngine) AddFunc(spec string, cmd func()) (int, error) {
	id, err := r.c.AddFunc(spec, cmd)
	return int(id), err
}

func (r *RobfigCronEngine) Remove(id int) {
	r.c.Remove(cron.EntryID(id))
}

func (r *RobfigCronEngine) Start() {
	r.c.Start()
}

// Stop halts the scheduler and waits for running jobs.
func (r *RobfigCronEngine) Stop() {
	<-r.c.Stop().Done()
}
