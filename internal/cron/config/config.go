package cron_config

type Config struct {
	// Heartbeat log, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Safety resync of the watched mailbox, every 15 minutes
	CronScheduleResync string `env:"CRON_SCHEDULE_RESYNC" envDefault:"0 */15 * * * *"`
}
