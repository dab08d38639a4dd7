package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/pterm/pterm"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/qman/app/archive"
	"github.com/umputun/qman/app/console"
	"github.com/umputun/qman/app/jobfile"
	"github.com/umputun/qman/app/notify"
	"github.com/umputun/qman/app/persistence"
	"github.com/umputun/qman/app/scheduler"
	"github.com/umputun/qman/app/tui"
	"github.com/umputun/qman/app/web"
)

type options struct {
	Apply   string `long:"apply" env:"QMAN_APPLY" description:"apply jobs from yaml file and exit"`
	NoColor bool   `long:"no-color" env:"QMAN_NO_COLOR" description:"disable colors in console"`
	Dbg     bool   `long:"dbg" env:"QMAN_DEBUG" description:"debug mode"`

	Scheduler struct {
		URL          string        `long:"url" env:"URL" default:"http://localhost:8080" description:"scheduler base url"`
		Timeout      time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"scheduler request timeout"`
		Poll         time.Duration `long:"poll" env:"POLL" default:"5s" description:"dashboard refresh interval"`
		HistoryLimit int           `long:"history-limit" env:"HISTORY_LIMIT" default:"20" description:"executions shown per job"`
		FreshEdit    bool          `long:"fresh-edit" env:"FRESH_EDIT" description:"re-fetch job before editing"`
	} `group:"scheduler" namespace:"scheduler" env-namespace:"QMAN_SCHEDULER"`

	Archive struct {
		Enabled     bool          `long:"enabled" env:"ENABLED" description:"keep local history archive"`
		DB          string        `long:"db" env:"DB" default:"qman.db" description:"archive database file"`
		Retention   time.Duration `long:"retention" env:"RETENTION" default:"240h" description:"archived executions retention"`
		Sweep       string        `long:"sweep" env:"SWEEP" default:"0 */10 * * * *" description:"history sweep schedule, cron with seconds, empty disables"`
		Cleanup     string        `long:"cleanup" env:"CLEANUP" default:"0 0 0 * * *" description:"retention cleanup schedule, cron with seconds"`
		Concurrency int           `long:"concurrency" env:"CONCURRENCY" default:"4" description:"parallel history requests of sweep"`
	} `group:"archive" namespace:"archive" env-namespace:"QMAN_ARCHIVE"`

	Notify struct {
		Webhooks       []string      `long:"webhook" env:"WEBHOOKS" env-delim:"," description:"webhook url(s) for failure alerts"`
		WebhookHeaders []string      `long:"webhook-header" env:"WEBHOOK_HEADERS" env-delim:"," description:"webhook header(s), name:value"`
		Timeout        time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"alert delivery timeout"`
		SMTPHost       string        `long:"smtp-host" env:"SMTP_HOST" description:"SMTP host"`
		SMTPPort       int           `long:"smtp-port" env:"SMTP_PORT" default:"25" description:"SMTP port"`
		SMTPUsername   string        `long:"smtp-username" env:"SMTP_USERNAME" description:"SMTP user name"`
		SMTPPassword   string        `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
		SMTPTLS        bool          `long:"smtp-tls" env:"SMTP_TLS" description:"enable SMTP TLS"`
		FromEmail      string        `long:"from" env:"FROM" description:"SMTP from email"`
		ToEmails       []string      `long:"to" env:"TO" env-delim:"," description:"SMTP to email(s)"`
		HostName       string        `long:"host" env:"HOSTNAME" description:"host name running qman"`
	} `group:"notify" namespace:"notify" env-namespace:"QMAN_NOTIFY"`

	Web struct {
		Address   string  `long:"address" env:"ADDRESS" description:"status server address, disabled if empty"`
		Password  string  `long:"password-hash" env:"PASSWORD_HASH" description:"bcrypt hash of status server password"`
		RateLimit float64 `long:"rate-limit" env:"RATE_LIMIT" default:"10" description:"api requests per second per client"`
	} `group:"web" namespace:"web" env-namespace:"QMAN_WEB"`

	Jobs struct {
		Watch    string        `long:"watch" env:"WATCH" description:"yaml job file applied on start and on every change"`
		Interval time.Duration `long:"interval" env:"INTERVAL" default:"10s" description:"job file check interval"`
	} `group:"jobs" namespace:"jobs" env-namespace:"QMAN_JOBS"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"write logs to file instead of stderr"`
		Filename        string `long:"filename" env:"FILENAME" default:"qman.log" description:"log file"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size, MB"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"5" description:"max number of rotated files"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"30" description:"max age of rotated files, days"`
		EnabledCompress bool   `long:"compress" env:"COMPRESS" description:"compress rotated files"`
	} `group:"log" namespace:"log" env-namespace:"QMAN_LOG"`
}

var opts options

var revision = "unknown"

func main() {
	fmt.Printf("qman %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	setupLogs()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT, SIGINT and SIGTERM

	err := run(ctx, os.Stdin, os.Stdout)
	cancel()
	if err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

// run starts the console with all enabled services and blocks until the console is done
func run(ctx context.Context, in io.Reader, out io.Writer) error {
	baseURL, err := validateBaseURL(opts.Scheduler.URL)
	if err != nil {
		return err
	}
	client := scheduler.New(scheduler.Params{BaseURL: baseURL, Timeout: opts.Scheduler.Timeout,
		HistoryLimit: opts.Scheduler.HistoryLimit})
	log.Printf("[INFO] scheduler %s", baseURL)

	if opts.NoColor {
		pterm.DisableColor()
	}
	if opts.Apply != "" {
		return applyJobFile(ctx, client, opts.Apply, out)
	}

	var ui *tui.Console
	ctrlCfg := console.Config{
		PollInterval: opts.Scheduler.Poll,
		HistoryLimit: opts.Scheduler.HistoryLimit,
		FreshEdit:    opts.Scheduler.FreshEdit,
		OnChange: func(st console.State) {
			if ui != nil {
				ui.Changed(st)
			}
		},
	}

	var history web.HistoryStore
	var arch *archive.Archiver
	if opts.Archive.Enabled {
		store, err := persistence.NewSQLiteStore(opts.Archive.DB)
		if err != nil {
			return fmt.Errorf("can't open archive: %w", err)
		}
		defer store.Close()
		history = store

		params := archive.Params{Store: store, Source: client, Retention: opts.Archive.Retention,
			SweepSchedule: opts.Archive.Sweep, CleanupSchedule: opts.Archive.Cleanup, Concurrency: opts.Archive.Concurrency}
		if svc := makeNotifier(); svc != nil {
			params.Alerter = svc
		}
		arch = archive.New(params)
		ctrlCfg.Recorder = arch
	} else if len(opts.Notify.Webhooks) > 0 || len(opts.Notify.ToEmails) > 0 {
		log.Printf("[WARN] failure alerts need history archive, enable it with --archive.enabled")
	}

	ctrl := console.New(client, ctrlCfg)
	ui = tui.New(tui.Params{Controller: ctrl, In: in, Out: out, Version: revision})

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Go(func() {
		if err := ctrl.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[WARN] console controller stopped: %v", err)
		}
	})

	if arch != nil {
		wg.Go(func() {
			if err := arch.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("[WARN] archiver stopped: %v", err)
			}
		})
	}

	if opts.Web.Address != "" {
		srv, err := web.New(web.Config{State: ctrl, History: history, Version: revision,
			PasswordHash: opts.Web.Password, RateLimit: opts.Web.RateLimit})
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("can't make status server: %w", err)
		}
		wg.Go(func() {
			if err := srv.Run(runCtx, opts.Web.Address); err != nil {
				log.Printf("[WARN] %v", err)
			}
		})
	}

	if opts.Jobs.Watch != "" {
		wg.Go(func() { watchJobFile(runCtx, client, opts.Jobs.Watch, opts.Jobs.Interval) })
	}

	err = ui.Run(runCtx)
	cancel()
	wg.Wait()
	return err
}

// applyJobFile saves all jobs from the file and reports the result to out
func applyJobFile(ctx context.Context, saver jobfile.Saver, file string, out io.Writer) error {
	cfg, err := jobfile.Load(file)
	if err != nil {
		return err
	}
	res, err := jobfile.Apply(ctx, saver, cfg)
	for _, key := range res.Applied {
		fmt.Fprint(out, pterm.Success.Sprintln(key))
	}
	for _, key := range res.Failed {
		fmt.Fprint(out, pterm.Error.Sprintln(key))
	}
	if err != nil {
		return fmt.Errorf("job file %s: %w", file, err)
	}
	return nil
}

// watchJobFile applies the job file once and then on every change until ctx is canceled
func watchJobFile(ctx context.Context, saver jobfile.Saver, file string, interval time.Duration) {
	apply := func(cfg *jobfile.Config) {
		res, err := jobfile.Apply(ctx, saver, cfg)
		if err != nil {
			log.Printf("[WARN] job file %s: %v", file, err)
		}
		log.Printf("[INFO] job file %s applied, saved %d, failed %d", file, len(res.Applied), len(res.Failed))
	}

	if cfg, err := jobfile.Load(file); err != nil {
		log.Printf("[WARN] %v", err)
	} else {
		apply(cfg)
	}

	ch, err := jobfile.NewWatcher(file, interval).Changes(ctx)
	if err != nil {
		log.Printf("[WARN] can't watch job file: %v", err)
		return
	}
	for cfg := range ch {
		log.Printf("[INFO] job file %s changed", file)
		apply(cfg)
	}
}

func makeNotifier() *notify.Service {
	if len(opts.Notify.Webhooks) == 0 && len(opts.Notify.ToEmails) == 0 {
		return nil
	}

	if opts.Notify.FromEmail == "" {
		opts.Notify.FromEmail = "qman@" + makeHostName()
	}

	return notify.NewService(notify.Params{
		WebhookURLs:    opts.Notify.Webhooks,
		WebhookHeaders: opts.Notify.WebhookHeaders,
		Timeout:        opts.Notify.Timeout,
		FromEmail:      opts.Notify.FromEmail,
		ToEmails:       opts.Notify.ToEmails,
		Host:           makeHostName(),
		SMTP: notify.SMTPParams{
			Host:     opts.Notify.SMTPHost,
			Port:     opts.Notify.SMTPPort,
			TLS:      opts.Notify.SMTPTLS,
			Username: opts.Notify.SMTPUsername,
			Password: opts.Notify.SMTPPassword,
		},
	})
}

func makeHostName() string {
	if opts.Notify.HostName != "" {
		return opts.Notify.HostName
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

// validateBaseURL checks the scheduler url and drops trailing slashes
func validateBaseURL(u string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(u))
	if err != nil {
		return "", fmt.Errorf("invalid scheduler url %q: %w", u, err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return "", fmt.Errorf("invalid scheduler url %q, http(s)://host[:port] expected", u)
	}
	return strings.TrimRight(parsed.String(), "/"), nil
}

// setupLogs configures lgr, the console owns stdout so logs go to stderr or to the rotated file.
// Returns the log destination.
func setupLogs() io.Writer {
	var out io.Writer = os.Stderr
	if opts.Log.Enabled {
		out = &lumberjack.Logger{
			Filename:   opts.Log.Filename,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			MaxAge:     opts.Log.MaxAge,
			Compress:   opts.Log.EnabledCompress,
		}
	}

	logOpts := []log.Option{log.Msec, log.LevelBraces, log.Out(out), log.Err(out)}
	if opts.Dbg {
		logOpts = append(logOpts, log.Debug, log.CallerFunc, log.CallerPkg, log.CallerFile)
	}
	log.Setup(logOpts...)
	return out
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Fprintln(os.Stderr, string(stacktrace[:length]))
				continue
			}
			log.Printf("[INFO] %v received, stopping", sig)
			cancel()
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, os.Interrupt)
}
