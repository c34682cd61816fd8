package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/moumen26/insurance-client-side/internal/api"
	"github.com/moumen26/insurance-client-side/internal/domain"
	"github.com/moumen26/insurance-client-side/internal/export"
	"github.com/moumen26/insurance-client-side/internal/notify"
	"github.com/moumen26/insurance-client-side/internal/service"
	"github.com/moumen26/insurance-client-side/internal/session"
)

var errUsage = errors.New("usage")

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "register":
		return a.register(ctx, args)
	case "login":
		return a.login(ctx, args)
	case "logout":
		a.auth.Logout(ctx)
		fmt.Fprintln(a.out, "Signed out")
		return nil
	case "whoami":
		return a.whoami(ctx)
	case "regions":
		return a.regions(ctx)
	case "policies":
		return a.policies(ctx)
	case "services":
		return a.services(ctx)
	case "stats":
		return a.stats(ctx)
	case "active":
		return a.listClaims(ctx, service.ViewActive)
	case "archived":
		return a.listClaims(ctx, service.ViewArchived)
	case "submit":
		return a.submit(ctx, args)
	case "dispute":
		return a.dispute(ctx, args)
	case "watch":
		return a.watch(ctx)
	case "export":
		return a.export(ctx, args)
	case "help", "-h", "--help":
		return errUsage
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}

func (a *app) requireSession(ctx context.Context) (*session.Session, error) {
	sess, err := a.sessions.Require(ctx)
	if err != nil {
		return nil, &api.Error{Kind: api.AuthExpired, Message: "not signed in, run claimctl login", Err: err}
	}
	return sess, nil
}

func (a *app) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := newFlagSet("register")
	var reg domain.Registration
	var region, policy, married string
	fs.StringVar(&reg.Username, "username", "", "username")
	fs.StringVar(&reg.Password, "password", "", "password")
	fs.StringVar(&reg.Phone, "phone", "", "phone number")
	fs.StringVar(&reg.FullName, "name", "", "full name")
	fs.StringVar(&region, "region", "", "region id (see claimctl regions)")
	fs.IntVar(&reg.Age, "age", 0, "age")
	fs.StringVar(&reg.Address, "address", "", "address")
	fs.StringVar(&reg.Job, "job", "", "occupation")
	fs.StringVar(&married, "married", "no", "marital status (yes/no)")
	fs.StringVar(&policy, "policy", "", "policy id (see claimctl policies)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := domain.ParseMarried(married)
	if err != nil {
		return &api.Error{Kind: api.Invalid, Message: err.Error(), Err: err}
	}
	reg.Married = m
	reg.Region = domain.ID(region)
	reg.Policy = domain.ID(policy)

	msg, err := a.auth.Register(ctx, reg)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, msg)
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := newFlagSet("login")
	username := fs.String("username", "", "username")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sess, err := a.auth.Login(ctx, *username, *password)
	if sess == nil {
		return err
	}
	if err != nil {
		// signed in for this run only
		a.logger.Warn("Session not persisted", zap.Error(err))
	}
	fmt.Fprintf(a.out, "Signed in as %s (user %s), session expires %s\n",
		sess.Profile.FullName, sess.UserID(), sess.Claims.ExpiresAt().Local().Format("2006-01-02 15:04"))
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	sess, err := a.requireSession(ctx)
	if err != nil {
		return err
	}
	p := sess.Profile
	tw := a.table()
	fmt.Fprintf(tw, "User ID\t%s\n", sess.UserID())
	fmt.Fprintf(tw, "Name\t%s\n", p.FullName)
	if p.Username != "" {
		fmt.Fprintf(tw, "Username\t%s\n", p.Username)
	}
	if p.Region != nil {
		fmt.Fprintf(tw, "Region\t%s\n", p.Region.Name)
	}
	if p.Policy != nil {
		fmt.Fprintf(tw, "Policy\t%s (%s%% co-pay)\n", p.Policy.Name, p.Policy.CoPay.String())
	}
	fmt.Fprintf(tw, "Expires\t%s\n", sess.Claims.ExpiresAt().Local().Format("2006-01-02 15:04"))
	return tw.Flush()
}

func (a *app) regions(ctx context.Context) error {
	regions, err := a.refs.Regions(ctx)
	if err != nil {
		return err
	}
	tw := a.table()
	fmt.Fprintln(tw, "ID\tREGION")
	for _, r := range regions {
		fmt.Fprintf(tw, "%s\t%s\n", r.ID, r.Name)
	}
	return tw.Flush()
}

func (a *app) policies(ctx context.Context) error {
	policies, err := a.refs.Policies(ctx)
	if err != nil {
		return err
	}
	tw := a.table()
	fmt.Fprintln(tw, "ID\tPOLICY\tCO-PAY")
	for _, p := range policies {
		fmt.Fprintf(tw, "%s\t%s\t%s%%\n", p.ID, p.Name, p.CoPay.String())
	}
	return tw.Flush()
}

func (a *app) services(ctx context.Context) error {
	if _, err := a.requireSession(ctx); err != nil {
		return err
	}
	services, err := a.refs.MedicalServices(ctx)
	if err != nil {
		return err
	}
	tw := a.table()
	fmt.Fprintln(tw, "ID\tSERVICE")
	for _, s := range services {
		fmt.Fprintf(tw, "%s\t%s\n", s.ID, s.Label())
	}
	return tw.Flush()
}

func (a *app) stats(ctx context.Context) error {
	sess, err := a.requireSession(ctx)
	if err != nil {
		return err
	}
	st, err := a.model.FetchStatistics(ctx, sess.UserID())
	if err != nil {
		return err
	}
	a.printStatistics(st)
	return nil
}

func (a *app) printStatistics(st domain.Statistics) {
	tw := a.table()
	fmt.Fprintf(tw, "Total claims\t%d\n", st.TotalClaims)
	fmt.Fprintf(tw, "Total claimed\t%s\n", st.TotalClaimAmount.StringFixed(2))
	fmt.Fprintf(tw, "Validated reimbursement\t%s\n", st.ValidatedReimbursement.StringFixed(2))
	fmt.Fprintf(tw, "Pending reimbursement\t%s\n", st.NonValidatedReimbursement.StringFixed(2))
	for _, s := range domain.AllStatuses {
		fmt.Fprintf(tw, "  %s\t%d\n", s, st.Counts.Of(s))
	}
	tw.Flush()
}

func (a *app) listClaims(ctx context.Context, view service.View) error {
	sess, err := a.requireSession(ctx)
	if err != nil {
		return err
	}
	var claims []domain.Claim
	if view == service.ViewActive {
		claims, err = a.model.ListActive(ctx, sess.UserID())
	} else {
		claims, err = a.model.ListArchived(ctx, sess.UserID())
	}
	if err != nil {
		return err
	}
	a.printClaims(claims)
	return nil
}

func (a *app) printClaims(claims []domain.Claim) {
	if len(claims) == 0 {
		fmt.Fprintln(a.out, "No claims")
		return
	}
	tw := a.table()
	fmt.Fprintln(tw, "ID\tDATE\tSERVICE\tSTATUS\tAMOUNT\tREIMBURSEMENT\tNOTE")
	for _, c := range claims {
		date := ""
		if !c.Date.IsZero() {
			date = c.Date.Local().Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, date, c.ServiceLabel(), c.Status,
			c.ClaimAmount.StringFixed(2), c.ReimbursementDisplay().StringFixed(2), claimNote(c))
	}
	tw.Flush()
}

func claimNote(c domain.Claim) string {
	switch {
	case c.Accusation != nil:
		return "disputed: " + c.Accusation.Description
	case c.Justification != nil:
		return "rejected: " + c.Justification.Description
	case c.Status == domain.StatusPaid && len(c.Payments) > 0:
		return "paid " + c.TotalPaid().StringFixed(2)
	}
	return ""
}

func (a *app) submit(ctx context.Context, args []string) error {
	fs := newFlagSet("submit")
	serviceID := fs.String("service", "", "medical service id (see claimctl services)")
	amount := fs.String("amount", "", "claimed amount, e.g. 150.00")
	var files stringList
	fs.Var(&files, "file", "attachment path, repeatable")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sess, err := a.requireSession(ctx)
	if err != nil {
		return err
	}
	if *serviceID != "" {
		_, found, err := a.refs.FindMedicalService(ctx, domain.ID(*serviceID))
		if err != nil {
			return err
		}
		if !found {
			return &api.Error{Kind: api.Invalid, Message: fmt.Sprintf("unknown medical service %q", *serviceID)}
		}
	}

	w := service.NewSubmissionWorkflow(a.client, a.sessions, a.model, a.logger.With(zap.String("user_id", sess.UserID().String())))
	w.OnTransition(func(t service.Transition) {
		a.logger.Debug("Submission state", zap.Stringer("from", t.From), zap.Stringer("to", t.To))
	})
	if err := w.Begin(); err != nil {
		return err
	}
	if err := w.SelectService(domain.ID(*serviceID)); err != nil {
		return err
	}
	if err := w.SetAmountText(*amount); err != nil {
		return err
	}
	for _, path := range files {
		att, err := domain.LoadAttachment(path)
		if err != nil {
			return &api.Error{Kind: api.Invalid, Message: err.Error(), Err: err}
		}
		if err := w.AddAttachment(att); err != nil {
			return err
		}
	}

	res, err := w.Submit(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, res.Message)
	return nil
}

func (a *app) dispute(ctx context.Context, args []string) error {
	fs := newFlagSet("dispute")
	claimID := fs.String("claim", "", "id of the rejected claim")
	description := fs.String("description", "", "why the rejection is wrong")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sess, err := a.requireSession(ctx)
	if err != nil {
		return err
	}
	claim, found, err := a.model.FindArchived(ctx, sess.UserID(), domain.ID(*claimID))
	if err != nil {
		return err
	}
	if !found {
		return &api.Error{Kind: api.Invalid, Message: fmt.Sprintf("no archived claim %q", *claimID)}
	}

	d := service.NewDisputeWorkflow(a.client, a.sessions, a.model, a.logger)
	if err := d.Open(claim); err != nil {
		if errors.Is(err, service.ErrDisputeNotAllowed) {
			return &api.Error{Kind: api.Invalid, Message: "only a rejected claim that has not been disputed can be disputed", Err: err}
		}
		return err
	}
	if err := d.SetDescription(*description); err != nil {
		return err
	}
	msg, err := d.Submit(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, msg)
	return nil
}

// watch polls the claim views and prints every change. Enter forces a
// refresh; updates from the broker do too when MQTT is enabled.
func (a *app) watch(ctx context.Context) error {
	sess, err := a.requireSession(ctx)
	if err != nil {
		return err
	}

	unsubs := []func(){
		a.model.OnStatistics(func(s service.Snapshot[domain.Statistics]) {
			if s.Err == nil {
				fmt.Fprintf(a.out, "\n== statistics (%s)\n", s.FetchedAt.Local().Format("15:04:05"))
				a.printStatistics(s.Value)
			}
		}),
		a.model.OnActive(func(s service.Snapshot[[]domain.Claim]) {
			if s.Err == nil {
				fmt.Fprintf(a.out, "\n== active claims (%s)\n", s.FetchedAt.Local().Format("15:04:05"))
				a.printClaims(s.Value)
			}
		}),
		a.model.OnArchived(func(s service.Snapshot[[]domain.Claim]) {
			if s.Err == nil {
				fmt.Fprintf(a.out, "\n== archived claims (%s)\n", s.FetchedAt.Local().Format("15:04:05"))
				a.printClaims(s.Value)
			}
		}),
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	if a.cfg.MQTT.Enabled {
		mc, err := notify.NewClient(&a.cfg.MQTT, a.logger)
		if err != nil {
			a.logger.Warn("MQTT unavailable, polling only", zap.Error(err))
		} else {
			defer mc.Disconnect()
			trigger := notify.NewTrigger(mc, a.cfg.MQTT.TopicPrefix, a.cfg.MQTT.QoS, a.model, a.logger)
			if err := trigger.Follow(sess.UserID()); err != nil {
				a.logger.Warn("Failed to follow claim updates", zap.Error(err))
			}
			unfollow := a.sessions.Subscribe(func(cur *session.Session) {
				if err := trigger.Follow(cur.UserID()); err != nil {
					a.logger.Warn("Failed to follow claim updates", zap.Error(err))
				}
			})
			defer unfollow()
			defer trigger.Close()
		}
	}

	a.model.Start(ctx)
	defer a.model.Stop()

	go a.focusOnEnter(ctx, os.Stdin)

	fmt.Fprintln(a.out, "Watching claims, press Enter to refresh, Ctrl-C to stop")
	<-ctx.Done()
	return nil
}

func (a *app) focusOnEnter(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		a.model.Focus()
	}
}

func (a *app) export(ctx context.Context, args []string) error {
	fs := newFlagSet("export")
	out := fs.String("out", "archived-claims.xlsx", "output file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sess, err := a.requireSession(ctx)
	if err != nil {
		return err
	}
	claims, err := a.model.ListArchived(ctx, sess.UserID())
	if err != nil {
		return err
	}
	data, err := export.ArchivedClaimsWorkbook(claims)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", *out, err)
	}
	fmt.Fprintf(a.out, "Wrote %d claims to %s\n", len(claims), *out)
	return nil
}
