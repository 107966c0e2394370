package e2e

import (
	"fmt"
	"strings"
	"time"
)

// e2eOptions selects backends for one e2e service config.
type e2eOptions struct {
	Name          string
	NATSIngest    bool
	Sinks         []string
	StatusBackend string
	StatusDSN     string
}

// e2eConfig builds service config with one breaching cpu alert.
// Params: HTTP port, NATS URL, and backend options.
// Returns: TOML document.
func e2eConfig(port int, natsURL string, opts e2eOptions) string {
	if opts.Name == "" {
		opts.Name = "alerteval"
	}
	if len(opts.Sinks) == 0 {
		opts.Sinks = []string{"log"}
	}
	if opts.StatusBackend == "" {
		opts.StatusBackend = "memory"
	}
	return fmt.Sprintf(`
[service]
name = "%s"
eval_interval_sec = 1
workers = 2
task_timeout_ms = 2000

[log.console]
enabled = true
level = "error"
format = "line"

[http]
enabled = true
listen = "127.0.0.1:%d"

[nats]
url = ["%s"]

[nats.ingest]
enabled = %t

[sink]
backends = ["%s"]

[status]
backend = "%s"
dsn = "%s"

[alert.cpu]
id = 42
namespace = "prod"
kind = "single_metric"
sampler = "all_of_the_times"
comparator = "above"
bad_threshold = 90.0
sliding_window_sec = 300
interval_sec = 60
`, opts.Name, port, natsURL, opts.NATSIngest, strings.Join(opts.Sinks, `", "`), opts.StatusBackend, opts.StatusDSN)
}

// breachingResultJSON renders one window result ending now with every point above 90.
func breachingResultJSON(hosts ...string) string {
	end := time.Now().Unix() / 60 * 60
	series := make([]string, 0, len(hosts))
	for _, host := range hosts {
		series = append(series, fmt.Sprintf(`{"tags":{"host":%q},"values":[95,96,97,98,99]}`, host))
	}
	return fmt.Sprintf(`{"alert_id":42,"namespace":"prod","window":{"grid":{"start_sec":%d,"end_sec":%d,"interval_sec":60},"series":[%s]}}`,
		end-300, end, strings.Join(series, ","))
}
