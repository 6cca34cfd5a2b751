package engine

import (
	"fmt"
	"log/slog"

	"github.com/drummonds/pdf2pics/config"
	"github.com/robfig/cron/v3"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// InitializeSchedules starts all the cron jobs (currently just the orphan sweep)
func InitializeSchedules(serverConfig config.Config) (*cron.Cron, error) {
	sweepJobFunc := func() {
		defer func() {
			if r := recover(); r != nil {
				Logger.Error("Panic recovered in sweep job", "panic", r)
			}
		}()
		if _, err := SweepOrphans(serverConfig.OutputRoot, serverConfig.SweepGrace); err != nil {
			Logger.Error("Sweep job failed", "error", err)
		}
	}

	c := cron.New()
	var sweepJob cron.Job
	sweepJob = cron.FuncJob(sweepJobFunc)
	sweepJob = cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(sweepJob) //ensure we don't kick off another if old one is still running
	if serverConfig.SweepInterval <= 0 {
		Logger.Info("Orphan sweep disabled", "intervalMinutes", serverConfig.SweepInterval)
		return c, nil
	}
	if _, err := c.AddJob(fmt.Sprintf("@every %dm", serverConfig.SweepInterval), sweepJob); err != nil {
		return nil, fmt.Errorf("unable to schedule sweep job: %w", err)
	}
	Logger.Info("Adding Sweep Job scheduler", "intervalMinutes", serverConfig.SweepInterval)
	c.Start()
	return c, nil
}
