package cron

import "testing"

func FuzzCronSchedule(f *testing.F) {
	f.Add("*/5 * * * *")
	f.Add("*/15 * * * *")
	f.Add("@every 10m")
	f.Add("@hourly")
	f.Add("invalid")
	f.Add("")
	f.Add("60 * * * *")
	f.Add("0 25 * * *")

	f.Fuzz(func(_ *testing.T, expr string) {
		// Must not panic; errors are expected and acceptable.
		_, _ = Parser.Parse(expr)
	})
}
