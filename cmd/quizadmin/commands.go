package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"codequiz/internal/admin"
	"codequiz/internal/app"
	"codequiz/internal/model"
	"codequiz/internal/publisher"

	"github.com/google/uuid"
)

// adminService действия администратора, доступные из CLI
type adminService interface {
	Publish(ctx context.Context, ids []int64, opts admin.PublishOptions, sink model.ProgressSink) (*admin.PublishResult, error)
	Delete(ctx context.Context, ids []int64, sink model.ProgressSink) (*admin.DeleteResult, error)
	ClearError(ctx context.Context, ids []int64) (int, error)
	PreviewLinks(ctx context.Context, ids []int64) (admin.LinkPreviews, error)
	Import(ctx context.Context, data []byte, opts admin.ImportOptions, sink model.ProgressSink) (*admin.ImportResult, error)
	MergeStats(ctx context.Context, miniAppUserID, userID int64) (*model.MergeReport, error)
	ListWebhooks(ctx context.Context) ([]model.Webhook, error)
	AddWebhook(ctx context.Context, hook *model.Webhook) error
	DeactivateWebhook(ctx context.Context, id uuid.UUID) error
}

// opener собирает сервис; release освобождает его ресурсы
type opener func(ctx context.Context, opts app.AdminOptions) (svc adminService, release func(), err error)

const usage = `usage: quizadmin [-timestamps] <command> [flags] [task ids]

commands:
  publish [-bulk] <ids>            publish translation groups of the tasks
  delete <ids>                     delete translation groups with messages and images
  clear-error <ids>                clear the error flag of the groups
  link-preview <ids>               show "learn more" links without publishing
  import [-file f] [-publish] [-bulk] [-skip-images]
                                   create tasks from JSON (stdin when -file is empty)
  merge-stats -mini-app-user X -user Y
                                   merge mini app statistics into a Telegram user
  webhooks list
  webhooks add -url U -service S [-type T] [-platforms a,b]
  webhooks deactivate <id>

exit codes: 0 ok, 1 partial or invalid input, 2 configuration, 3 transport
`

type cli struct {
	open    opener
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	stamped bool
}

// run выполняет команду и возвращает код завершения
func (c *cli) run(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("quizadmin", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	fs.Usage = func() { fmt.Fprint(c.stderr, usage) }
	fs.BoolVar(&c.stamped, "timestamps", false, "prefix progress lines with time")
	if err := fs.Parse(args); err != nil {
		return admin.ExitPartial
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return admin.ExitPartial
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "publish":
		return c.publish(ctx, rest)
	case "delete":
		return c.delete(ctx, rest)
	case "clear-error":
		return c.clearError(ctx, rest)
	case "link-preview":
		return c.linkPreview(ctx, rest)
	case "import":
		return c.importTasks(ctx, rest)
	case "merge-stats":
		return c.mergeStats(ctx, rest)
	case "webhooks":
		return c.webhooks(ctx, rest)
	case "help", "-h", "--help":
		fmt.Fprint(c.stdout, usage)
		return admin.ExitOK
	default:
		fmt.Fprintf(c.stderr, "unknown command %q\n\n%s", cmd, usage)
		return admin.ExitPartial
	}
}

// fail печатает ошибку и переводит ее в код завершения
func (c *cli) fail(err error) int {
	fmt.Fprintf(c.stderr, "error: %v\n", err)
	return admin.ExitCode(true, err)
}

func (c *cli) printer() *admin.Printer {
	return admin.NewPrinter(c.stdout, c.stamped)
}

// withService открывает сервис на время команды
func (c *cli) withService(ctx context.Context, opts app.AdminOptions, fn func(svc adminService) int) int {
	svc, closeFn, err := c.open(ctx, opts)
	if err != nil {
		return c.fail(err)
	}
	defer closeFn()
	return fn(svc)
}

// parseIDs принимает id через пробел или запятую
func parseIDs(args []string) ([]int64, error) {
	var ids []int64
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, model.Errorf(model.KindValidationFailed, "parse ids", "invalid task id %q", part)
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, model.Errorf(model.KindValidationFailed, "parse ids", "no task ids given")
	}
	return ids, nil
}

// idsCommand разбирает флаги команды, принимающей список задач
func (c *cli) idsCommand(name string, args []string, setup func(fs *flag.FlagSet)) ([]int64, int, bool) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	if setup != nil {
		setup(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, admin.ExitPartial, false
	}
	ids, err := parseIDs(fs.Args())
	if err != nil {
		return nil, c.fail(err), false
	}
	return ids, 0, true
}

func (c *cli) publish(ctx context.Context, args []string) int {
	var bulk bool
	ids, code, ok := c.idsCommand("publish", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&bulk, "bulk", false, "send one quiz_published_bulk per generic webhook")
	})
	if !ok {
		return code
	}

	return c.withService(ctx, app.AdminOptions{Publishing: true}, func(svc adminService) int {
		res, err := svc.Publish(ctx, ids, admin.PublishOptions{Bulk: bulk, WaitVideo: true}, c.printer())
		if err != nil {
			return c.fail(err)
		}
		c.printPublish(res)
		return res.ExitCode()
	})
}

func (c *cli) printPublish(res *admin.PublishResult) {
	r := res.Report
	fmt.Fprintf(c.stdout, "groups %d: published %d, partial %d, failed %d, already published %d, in progress %d, not attempted %d\n",
		res.Groups,
		r.Count(publisher.StatusPublished),
		r.Count(publisher.StatusPartial),
		r.Count(publisher.StatusFailed),
		r.Count(publisher.StatusAlreadyPublished),
		r.Count(publisher.StatusInProgress),
		r.Count(publisher.StatusNotAttempted))
	if r.Aborted != nil {
		fmt.Fprintf(c.stdout, "batch aborted: %v\n", r.Aborted)
	}
	if res.Fanout == nil {
		return
	}
	if res.Fanout.Skipped {
		fmt.Fprintln(c.stdout, "webhooks: no active destinations")
		return
	}
	if s := res.Fanout.Immediate; s != nil {
		fmt.Fprintf(c.stdout, "webhooks: sent %d, failed %d, skipped %d\n", s.Sent, s.Failed, s.Skipped)
	}
	if len(res.Fanout.Scheduled) > 0 {
		fmt.Fprintf(c.stdout, "webhooks after video: %s\n", strings.Join(res.Fanout.Scheduled, ", "))
	}
}

func (c *cli) delete(ctx context.Context, args []string) int {
	ids, code, ok := c.idsCommand("delete", args, nil)
	if !ok {
		return code
	}

	return c.withService(ctx, app.AdminOptions{Publishing: true}, func(svc adminService) int {
		res, err := svc.Delete(ctx, ids, c.printer())
		if err != nil {
			return c.fail(err)
		}
		if r := res.Report; r != nil {
			fmt.Fprintf(c.stdout, "groups %d: tasks %d, translations %d, polls %d, statistics %d\n",
				res.Groups, r.TasksDeleted, r.TranslationsDeleted, r.PollsDeleted, r.StatisticsDeleted)
			fmt.Fprintf(c.stdout, "images %d/%d (shared kept %d), videos %d/%d, telegram %d/%d (already gone %d, failed %d)\n",
				r.ImagesDeleted, r.ImagesAttempted, r.ImagesShared, r.VideosDeleted, r.VideosAttempted,
				r.TelegramDeleted, r.TelegramAttempted, r.TelegramSoftFailed, r.TelegramFailed)
			for _, d := range r.Deviations {
				fmt.Fprintf(c.stdout, "deviation: %s\n", d)
			}
			for _, e := range r.Errors {
				fmt.Fprintf(c.stdout, "error: %s\n", e)
			}
		}
		if res.Err != nil {
			fmt.Fprintf(c.stderr, "error: %v\n", res.Err)
		}
		return res.ExitCode()
	})
}

func (c *cli) clearError(ctx context.Context, args []string) int {
	ids, code, ok := c.idsCommand("clear-error", args, nil)
	if !ok {
		return code
	}

	return c.withService(ctx, app.AdminOptions{}, func(svc adminService) int {
		n, err := svc.ClearError(ctx, ids)
		if err != nil {
			return c.fail(err)
		}
		fmt.Fprintf(c.stdout, "error flag cleared on %d tasks\n", n)
		return admin.ExitOK
	})
}

func (c *cli) linkPreview(ctx context.Context, args []string) int {
	ids, code, ok := c.idsCommand("link-preview", args, nil)
	if !ok {
		return code
	}

	return c.withService(ctx, app.AdminOptions{}, func(svc adminService) int {
		previews, err := svc.PreviewLinks(ctx, ids)
		if err != nil {
			return c.fail(err)
		}
		for _, p := range previews {
			r := p.Resolution
			if r.Found() {
				fmt.Fprintf(c.stdout, "task %d [%s]: %s (%s, %s)\n", p.TaskID, p.Language, r.URL, r.Source, r.Language)
				continue
			}
			fmt.Fprintf(c.stdout, "task %d [%s]: missing: %s\n", p.TaskID, p.Language, r.Diagnostic)
		}
		return previews.ExitCode()
	})
}

func (c *cli) importTasks(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	var (
		file string
		opts admin.ImportOptions
	)
	fs.StringVar(&file, "file", "", "JSON file; stdin when empty")
	fs.BoolVar(&opts.Publish, "publish", false, "publish created tasks")
	fs.BoolVar(&opts.Bulk, "bulk", false, "bulk webhook payload when publishing")
	fs.BoolVar(&opts.SkipImages, "skip-images", false, "do not render images now")
	if err := fs.Parse(args); err != nil {
		return admin.ExitPartial
	}

	data, err := c.readInput(file)
	if err != nil {
		return c.fail(err)
	}

	needPublishing := opts.Publish || !opts.SkipImages
	return c.withService(ctx, app.AdminOptions{Publishing: needPublishing}, func(svc adminService) int {
		res, err := svc.Import(ctx, data, opts, c.printer())
		if err != nil {
			return c.fail(err)
		}
		fmt.Fprintf(c.stdout, "created %d tasks in %d groups, rejected %d, images %d\n",
			len(res.Created), len(res.Groups), len(res.Rejected), res.Images)
		for _, rej := range res.Rejected {
			fmt.Fprintf(c.stdout, "record %d rejected: %v\n", rej.Index, rej.Err)
		}
		if res.Publish != nil {
			c.printPublish(res.Publish)
		}
		return res.ExitCode()
	})
}

func (c *cli) readInput(file string) ([]byte, error) {
	if file == "" || file == "-" {
		data, err := io.ReadAll(c.stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, model.NewError(model.KindValidationFailed, "read import file", err)
	}
	return data, nil
}

func (c *cli) mergeStats(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("merge-stats", flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	var miniApp, user int64
	fs.Int64Var(&miniApp, "mini-app-user", 0, "mini app user id")
	fs.Int64Var(&user, "user", 0, "Telegram user id")
	if err := fs.Parse(args); err != nil {
		return admin.ExitPartial
	}

	return c.withService(ctx, app.AdminOptions{}, func(svc adminService) int {
		report, err := svc.MergeStats(ctx, miniApp, user)
		if err != nil {
			return c.fail(err)
		}
		fmt.Fprintf(c.stdout, "merged %d, created %d\n", report.Merged, report.Created)
		return admin.ExitOK
	})
}

func (c *cli) webhooks(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(c.stderr, usage)
		return admin.ExitPartial
	}
	switch args[0] {
	case "list":
		return c.withService(ctx, app.AdminOptions{}, func(svc adminService) int {
			hooks, err := svc.ListWebhooks(ctx)
			if err != nil {
				return c.fail(err)
			}
			tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tACTIVE\tSERVICE\tURL\tPLATFORMS")
			for _, h := range hooks {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%s\n",
					h.ID, h.WebhookType, h.IsActive, h.ServiceName, h.URL, strings.Join(h.TargetPlatforms, ","))
			}
			_ = tw.Flush()
			return admin.ExitOK
		})
	case "add":
		fs := flag.NewFlagSet("webhooks add", flag.ContinueOnError)
		fs.SetOutput(c.stderr)
		var hook model.Webhook
		var hookType, platforms string
		fs.StringVar(&hook.URL, "url", "", "destination URL")
		fs.StringVar(&hook.ServiceName, "service", "", "service name")
		fs.StringVar(&hookType, "type", string(model.WebhookGeneric), "generic, russian_only, english_only or social_media")
		fs.StringVar(&platforms, "platforms", "", "target platforms for social_media, comma separated")
		if err := fs.Parse(args[1:]); err != nil {
			return admin.ExitPartial
		}
		hook.WebhookType = model.WebhookType(hookType)
		for _, p := range strings.Split(platforms, ",") {
			if p = strings.TrimSpace(p); p != "" {
				hook.TargetPlatforms = append(hook.TargetPlatforms, p)
			}
		}
		return c.withService(ctx, app.AdminOptions{}, func(svc adminService) int {
			if err := svc.AddWebhook(ctx, &hook); err != nil {
				return c.fail(err)
			}
			fmt.Fprintf(c.stdout, "webhook %s added\n", hook.ID)
			return admin.ExitOK
		})
	case "deactivate":
		if len(args) != 2 {
			return c.fail(model.Errorf(model.KindValidationFailed, "deactivate webhook", "expected one webhook id"))
		}
		id, err := uuid.Parse(args[1])
		if err != nil {
			return c.fail(model.NewError(model.KindValidationFailed, "deactivate webhook", err))
		}
		return c.withService(ctx, app.AdminOptions{}, func(svc adminService) int {
			if err := svc.DeactivateWebhook(ctx, id); err != nil {
				return c.fail(err)
			}
			fmt.Fprintf(c.stdout, "webhook %s deactivated\n", id)
			return admin.ExitOK
		})
	default:
		return c.fail(errors.New("unknown webhooks subcommand " + strconv.Quote(args[0])))
	}
}
