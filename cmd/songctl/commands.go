package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/shattavibe/api/internal/apperr"
	"github.com/shattavibe/api/internal/generation"
	"github.com/shattavibe/api/internal/identity"
	"github.com/shattavibe/api/internal/model"
	"github.com/shattavibe/api/internal/service"
	"github.com/shattavibe/api/internal/session"
)

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func cmdDeviceID(_ context.Context, a *app, _ []string, out io.Writer) error {
	fmt.Fprintln(out, a.devices.DeviceID())
	return nil
}

func cmdLogin(_ context.Context, a *app, args []string, out io.Writer) error {
	fs := newFlagSet("login", out)
	token := fs.String("token", "", "bearer token issued by the identity provider")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *token == "" {
		return fmt.Errorf("%w: -token is required", apperr.ErrInvalidRequest)
	}

	accountID, err := a.sessions.SignIn(*token)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "signed in as %s\n", accountID)
	return nil
}

func cmdLogout(_ context.Context, a *app, _ []string, out io.Writer) error {
	if err := a.sessions.SignOut(); err != nil {
		return err
	}
	fmt.Fprintln(out, "signed out")
	return nil
}

func cmdQuota(ctx context.Context, a *app, _ []string, out io.Writer) error {
	if err := a.openRecords(); err != nil {
		return err
	}
	id := a.resolver.Current(ctx)
	remaining, err := a.quota.Remaining(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "identity:  %s\n", id.Key())
	if remaining.Unlimited {
		fmt.Fprintln(out, "remaining: unlimited")
		return nil
	}
	fmt.Fprintf(out, "remaining: %d of %d free generations\n", remaining.Count, a.quota.FreeLimit())
	return nil
}

func cmdLibrary(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := newFlagSet("library", out)
	limit := fs.Int("limit", 20, "maximum number of generations to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.openRecords(); err != nil {
		return err
	}

	jobs, err := a.library.List(ctx, a.resolver.Current(ctx), *limit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(out, "no generations yet")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tPLAYABLE\tCREATED\tPROMPT")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\n",
			j.TaskID, j.Status, len(j.PlayableTracks()), len(j.Tracks),
			j.CreatedAt.Local().Format("2006-01-02 15:04"), truncate(j.Prompt, 48))
	}
	return w.Flush()
}

func cmdStatus(ctx context.Context, a *app, args []string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: songctl status TASK_ID", apperr.ErrInvalidRequest)
	}
	if err := a.openRecords(); err != nil {
		return err
	}

	job, err := a.library.Get(ctx, a.resolver.Current(ctx), args[0])
	if err != nil {
		if errors.Is(err, apperr.ErrJobNotFound) {
			return fmt.Errorf("generation %s not found for this identity", args[0])
		}
		return err
	}

	fmt.Fprintf(out, "task:    %s\n", job.TaskID)
	fmt.Fprintf(out, "status:  %s\n", job.Status)
	fmt.Fprintf(out, "model:   %s\n", job.Model)
	fmt.Fprintf(out, "prompt:  %s\n", job.Prompt)
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "error:   %s\n", job.ErrorMessage)
	}
	printTracks(out, job.Tracks)
	return nil
}

func cmdGenerate(ctx context.Context, a *app, args []string, out io.Writer) error {
	fs := newFlagSet("generate", out)
	prompt := fs.String("prompt", "", "description of the song")
	instrumental := fs.Bool("instrumental", false, "generate without vocals")
	engine := fs.String("model", "", "engine version (V3_5, V4, V4_5, V4_5PLUS, V5)")
	negativeTags := fs.String("negative-tags", "", "styles to avoid")
	vocalGender := fs.String("vocal-gender", "", "preferred vocal gender (m or f)")
	noWait := fs.Bool("no-wait", false, "return after submission without polling")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !a.vendor.IsConfigured() {
		return errors.New("suno api key is not configured (set SUNO_API_KEY)")
	}
	if err := a.openRecords(); err != nil {
		return err
	}

	params := service.SubmitParams{
		Prompt:       *prompt,
		Instrumental: *instrumental,
		Model:        model.SunoModel(*engine),
		NegativeTags: *negativeTags,
		VocalGender:  model.VocalGender(*vocalGender),
	}

	if *noWait {
		sub, err := a.submissions.Submit(ctx, params)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "submitted %s\n", sub.TaskID)
		return nil
	}

	ctrl := a.controller()
	defer ctrl.Close()
	ctrl.Load(ctx)

	// A sign-out in another shell drops the job being tracked here.
	files, err := session.NewFileSignals(a.cfg.Client.DataDir, []string{identity.SessionFile, identity.DeviceIDFile}, a.logger.Named("files"))
	if err != nil {
		return err
	}
	defer files.Close()
	w := session.New(a.resolver,
		session.WithDebounce(a.cfg.Generation.Debounce),
		session.WithLogger(a.logger.Named("session")),
		session.WithReconciler(ctrl),
	)
	defer w.Close()
	w.Prime(ctx)
	w.Run(a.sessions, files)

	updates, unsubscribe := ctrl.Updates()
	defer unsubscribe()

	taskID, err := ctrl.Submit(ctx, params)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "submitted %s\n", taskID)

	last := ""
	for {
		view := ctrl.State()
		if view.Status == model.EngineIdle {
			fmt.Fprintf(out, "stopped watching %s: signed out; sign in again and check with `songctl status %s`\n", taskID, taskID)
			return nil
		}
		if view.ProgressMessage != last {
			fmt.Fprintln(out, view.ProgressMessage)
			last = view.ProgressMessage
		}
		if view.Status.IsTerminal() {
			if view.Status == model.EngineCompleted {
				// Final-quality URLs may have landed since the first playable track.
				if refreshed, err := ctrl.Refresh(ctx); err == nil {
					view = refreshed
				}
			}
			return finishGenerate(out, view)
		}

		select {
		case <-ctx.Done():
			ctrl.Reset()
			fmt.Fprintf(out, "stopped watching %s; check later with `songctl status %s`\n", taskID, taskID)
			return nil
		case <-updates:
		}
	}
}

func finishGenerate(out io.Writer, view generation.View) error {
	switch view.Status {
	case model.EngineCompleted:
		tracks := make([]model.Track, len(view.Tracks))
		for i, t := range view.Tracks {
			tracks[i] = t.Track
		}
		printTracks(out, tracks)
		fmt.Fprintf(out, "remaining free generations: %s\n", view.Remaining)
		return nil
	case model.EngineLimitReached:
		return apperr.ErrQuotaExceeded
	}
	return errors.New(view.Error)
}

func cmdWatch(ctx context.Context, a *app, _ []string, out io.Writer) error {
	if err := a.openRecords(); err != nil {
		return err
	}

	ctrl := a.controller()
	defer ctrl.Close()
	ctrl.Load(ctx)

	files, err := session.NewFileSignals(a.cfg.Client.DataDir, []string{identity.SessionFile, identity.DeviceIDFile}, a.logger.Named("files"))
	if err != nil {
		return err
	}
	defer files.Close()

	printer := session.ReconcilerFunc(func(ctx context.Context, prev, next model.Identity) error {
		view := ctrl.State()
		fmt.Fprintf(out, "identity changed: %s -> %s (remaining: %s, library: %d)\n",
			describe(prev), describe(next), view.Remaining, len(ctrl.Library()))
		if view.RequiresSignIn {
			fmt.Fprintln(out, "signed out: sign in again to see your account's songs")
		}
		return nil
	})

	w := session.New(a.resolver,
		session.WithDebounce(a.cfg.Generation.Debounce),
		session.WithLogger(a.logger.Named("session")),
		session.WithReconciler(ctrl),
		session.WithReconciler(printer),
	)
	defer w.Close()

	start := w.Prime(ctx)
	fmt.Fprintf(out, "watching %s as %s (remaining: %s)\n", a.cfg.Client.DataDir, describe(start), ctrl.State().Remaining)
	w.Run(a.sessions, files)

	<-ctx.Done()
	return nil
}

func printTracks(out io.Writer, tracks []model.Track) {
	if len(tracks) == 0 {
		fmt.Fprintln(out, "tracks:  none yet")
		return
	}
	for i, t := range tracks {
		fmt.Fprintf(out, "track %d: %s\n", i+1, nonEmpty(t.Title, t.ID))
		if !t.IsPlayable() {
			fmt.Fprintln(out, "  not playable yet")
			continue
		}
		fmt.Fprintf(out, "  play:     %s\n", t.PlaybackURL())
		if t.IsDownloadable() {
			fmt.Fprintf(out, "  download: %s\n", nonEmpty(t.ArchiveURL, t.DownloadURL()))
		}
	}
}

func describe(id model.Identity) string {
	if id.IsZero() {
		return "nobody"
	}
	return id.Key()
}

func nonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
