package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/flowerschoolbengaluru/flowerschool"
	contract "github.com/flowerschoolbengaluru/flowerschool/api"
	"github.com/flowerschoolbengaluru/flowerschool/config"
	"github.com/flowerschoolbengaluru/flowerschool/internal/devbackend"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/access"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/api"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/booking"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/payment"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

// prompt reads one line from stdin.
func (a *app) prompt(label string) (string, error) {
	fmt.Fprint(a.errOut, label)
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading %s: %w", strings.TrimSuffix(strings.TrimSpace(label), ":"), err)
	}
	return strings.TrimSpace(line), nil
}

// newClient builds and starts a client from the loaded config. The returned
// func releases it.
func (a *app) newClient(ctx context.Context) (*flowerschool.Client, func(), error) {
	cfg := a.cfg
	opts := []flowerschool.Option{
		flowerschool.WithLogr(a.logger),
		flowerschool.WithSiteOrigin(cfg.Backend.SiteOrigin),
		flowerschool.WithTimeout(cfg.Backend.Timeout),
		flowerschool.WithCookieDays(cfg.Session.CookieDays),
		flowerschool.WithDevHosts(cfg.Session.DevHosts),
		flowerschool.WithCurrency(cfg.Payment.Currency),
		flowerschool.WithNavigator(api.NavigatorFunc(func(route string) {
			fmt.Fprintf(a.errOut, "please sign in again (%s)\n", route)
		})),
		flowerschool.WithNotifier(access.NotifierFunc(func(n access.Notification) {
			fmt.Fprintf(a.errOut, "%s: %s\n", n.Title, n.Message)
		})),
	}
	if cfg.Backend.Tracing {
		opts = append(opts, flowerschool.WithTracing())
	}
	if !cfg.Backend.SampleFallback {
		opts = append(opts, flowerschool.WithoutSampleFallback())
	}
	if cfg.Session.EnrollmentRecord {
		opts = append(opts, flowerschool.WithEnrollmentRecord())
	}
	if cfg.Payment.OmisePublicKey != "" {
		opts = append(opts, flowerschool.WithOmise(cfg.Payment.OmisePublicKey, cardPrompt{a}))
	}

	release := func() {}
	switch cfg.Storage.Driver {
	case config.StorageSQLite:
		opts = append(opts, flowerschool.WithSqlitePath(cfg.Storage.SQLitePath))
	case config.StorageRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
		release = func() { rdb.Close() }
		opts = append(opts, flowerschool.WithRedis(rdb, cfg.Storage.RedisPrefix))
	}

	c, err := flowerschool.New(cfg.Backend.BaseURL, opts...)
	if err != nil {
		release()
		return nil, nil, err
	}
	c.Start(ctx)
	closeAll := func() {
		if err := c.Close(); err != nil {
			a.logger.Error(err, "closing client")
		}
		release()
	}
	if err := c.Auth.WaitReady(ctx); err != nil {
		closeAll()
		return nil, nil, err
	}
	return c, closeAll, nil
}

// cardPrompt asks for card details on stdin.
type cardPrompt struct{ a *app }

func (p cardPrompt) PromptCard(_ context.Context, order *contract.Order, prefill payment.Prefill) (*payment.Card, error) {
	fmt.Fprintf(p.a.errOut, "Paying %s %.2f (order %s)\n", order.Currency, float64(order.Amount)/100, order.ID)
	number, err := p.a.prompt("Card number (empty to cancel): ")
	if err != nil {
		return nil, err
	}
	if number == "" {
		return nil, payment.ErrDismissed
	}
	expiry, err := p.a.prompt("Expiry (MM/YYYY): ")
	if err != nil {
		return nil, err
	}
	var month, year int
	if _, err := fmt.Sscanf(expiry, "%d/%d", &month, &year); err != nil || month < 1 || month > 12 {
		return nil, fmt.Errorf("invalid expiry %q", expiry)
	}
	cvc, err := p.a.prompt("CVC: ")
	if err != nil {
		return nil, err
	}
	return &payment.Card{
		Name:            prefill.Name,
		Number:          strings.ReplaceAll(number, " ", ""),
		ExpirationMonth: time.Month(month),
		ExpirationYear:  year,
		SecurityCode:    cvc,
	}, nil
}

func runDevServer(ctx context.Context, a *app, args []string) error {
	fs := pflag.NewFlagSet("devserver", pflag.ContinueOnError)
	addr := fs.String("addr", ":5000", "listen address")
	admin := fs.String("admin", "", "seed an admin account, email:password")
	secret := fs.String("secret", "", "token and payment signing secret")
	if err := fs.Parse(args); err != nil {
		return err
	}

	srv := devbackend.New(a.slogger, devbackend.Config{
		Secret:     *secret,
		PaymentKey: a.cfg.Payment.OmisePublicKey,
		Tracing:    a.cfg.Backend.Tracing,
	})
	if *admin != "" {
		email, password, ok := strings.Cut(*admin, ":")
		if !ok {
			return errors.New("--admin must be email:password")
		}
		if _, err := srv.CreateUser(ctx, devbackend.CreateUserParams{
			Email: email, FirstName: "Site", LastName: "Admin", Password: password, Role: models.RoleAdmin,
		}); err != nil {
			return fmt.Errorf("seeding admin: %w", err)
		}
	}

	httpSrv := &http.Server{Addr: *addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error(err, "shutting down development backend")
		}
	}()

	a.logger.Info("development backend listening", "addr", *addr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runSignUp(ctx context.Context, a *app, args []string) error {
	fs := pflag.NewFlagSet("signup", pflag.ContinueOnError)
	first := fs.String("first", "", "first name")
	last := fs.String("last", "", "last name")
	phone := fs.String("phone", "", "10-digit mobile number")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("signup needs an email address")
	}
	password, err := a.prompt("Password: ")
	if err != nil {
		return err
	}

	c, done, err := a.newClient(ctx)
	if err != nil {
		return err
	}
	defer done()

	res, err := c.API.SignUp(ctx, contract.SignUpRequest{
		FirstName: *first,
		LastName:  *last,
		Email:     fs.Arg(0),
		Phone:     *phone,
		Password:  password,
	})
	if err != nil {
		return errors.New(api.Message(err))
	}
	fmt.Fprintln(a.out, res.Message)
	return nil
}

func runSignIn(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("signin needs an email address")
	}
	password, err := a.prompt("Password: ")
	if err != nil {
		return err
	}

	c, done, err := a.newClient(ctx)
	if err != nil {
		return err
	}
	defer done()

	u, err := c.SignIn(ctx, args[0], password)
	if err != nil {
		return errors.New(api.Message(err))
	}
	fmt.Fprintf(a.out, "Signed in as %s (%s)\n", u.DisplayName, u.Role)
	return nil
}

func runWhoAmI(ctx context.Context, a *app, _ []string) error {
	c, done, err := a.newClient(ctx)
	if err != nil {
		return err
	}
	defer done()

	snap := c.Auth.Snapshot()
	if !snap.IsAuthenticated {
		fmt.Fprintln(a.out, "Not signed in")
		return nil
	}
	fmt.Fprintf(a.out, "%s <%s>\nrole: %s\nsession: %s\n", snap.User.DisplayName, snap.User.Email, snap.User.Role, snap.Phase)
	if snap.LastError != nil {
		fmt.Fprintf(a.out, "not confirmed by the backend: %s\n", api.Message(snap.LastError))
	}
	return nil
}

func runSignOut(ctx context.Context, a *app, _ []string) error {
	c, done, err := a.newClient(ctx)
	if err != nil {
		return err
	}
	defer done()

	c.SignOut(ctx)
	fmt.Fprintln(a.out, "Signed out")
	return nil
}

func runRecover(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("recover needs an email address or phone number")
	}
	contact := args[0]

	c, done, err := a.newClient(ctx)
	if err != nil {
		return err
	}
	defer done()

	res, err := c.API.ForgotPassword(ctx, contact)
	if err != nil {
		return errors.New(api.Message(err))
	}
	fmt.Fprintln(a.out, res.Message)

	code, err := a.prompt("Verification code: ")
	if err != nil {
		return err
	}
	if _, err := c.API.VerifyOTP(ctx, contact, code); err != nil {
		return errors.New(api.Message(err))
	}
	password, err := a.prompt("New password: ")
	if err != nil {
		return err
	}
	res, err = c.API.ResetPassword(ctx, contact, code, password)
	if err != nil {
		return errors.New(api.Message(err))
	}
	fmt.Fprintln(a.out, res.Message)
	return nil
}

func runCourses(ctx context.Context, a *app, _ []string) error {
	c, done, err := a.newClient(ctx)
	if err != nil {
		return err
	}
	defer done()

	feed := c.API.Courses(ctx)
	if feed.Err != nil && len(feed.Items) == 0 {
		return errors.New(api.Message(feed.Err))
	}
	if feed.Fallback {
		fmt.Fprintln(a.errOut, "backend unavailable, showing sample courses")
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tCATEGORY\tPRICE\tDURATION\tSEATS")
	for _, course := range feed.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
			course.ID, course.Title, course.Category, course.Price, course.Duration, course.SeatsLeft())
	}
	return w.Flush()
}

func eventFor(course models.Course) models.EventSummary {
	e := models.EventSummary{
		ID:       course.ID.String(),
		Title:    course.Title,
		Price:    course.Price,
		Category: models.EventCourse,
	}
	if course.Category == models.CategoryWorkshop {
		e.Category = models.EventWorkshop
	}
	if course.NextBatch != nil {
		e.Date = course.NextBatch.Format("2006-01-02")
		e.Time = course.NextBatch.Format("15:04")
	}
	return e
}

func runBook(ctx context.Context, a *app, args []string) error {
	fs := pflag.NewFlagSet("book", pflag.ContinueOnError)
	now := fs.Bool("now", false, "pay online instead of at the venue")
	fields := map[string]*string{
		booking.FieldFirstName: fs.String("first", "", "first name"),
		booking.FieldLastName:  fs.String("last", "", "last name"),
		booking.FieldEmail:     fs.String("email", "", "email address"),
		booking.FieldPhone:     fs.String("phone", "", "10-digit mobile number"),
		booking.FieldAddress:   fs.String("address", "", "street address"),
		booking.FieldCity:      fs.String("city", "", "city"),
		booking.FieldState:     fs.String("state", "", "state"),
		booking.FieldPincode:   fs.String("pincode", "", "postal code"),
		booking.FieldMessage:   fs.String("message", "", "note for the school"),
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("book needs a course id")
	}

	c, done, err := a.newClient(ctx)
	if err != nil {
		return err
	}
	defer done()

	var course *models.Course
	for _, item := range c.API.Courses(ctx).Items {
		if item.ID.String() == fs.Arg(0) {
			course = &item
			break
		}
	}
	if course == nil {
		return fmt.Errorf("no course with id %s", fs.Arg(0))
	}

	// fill in what the session already knows
	if u := c.Auth.Snapshot().User; u != nil {
		if *fields[booking.FieldEmail] == "" {
			*fields[booking.FieldEmail] = u.Email
		}
		first, last, _ := strings.Cut(u.DisplayName, " ")
		if *fields[booking.FieldFirstName] == "" {
			*fields[booking.FieldFirstName] = first
		}
		if *fields[booking.FieldLastName] == "" {
			*fields[booking.FieldLastName] = last
		}
	}

	m := c.NewBooking()
	m.Open(eventFor(*course))
	defer m.Close()
	for field, value := range fields {
		if *value == "" {
			continue
		}
		if err := m.SetField(field, *value); err != nil {
			return err
		}
	}

	if err := m.SubmitDetails(ctx); err != nil {
		var fe models.FieldErrors
		if errors.As(err, &fe) {
			for field, msg := range fe {
				fmt.Fprintf(a.errOut, "  %s: %s\n", field, msg)
			}
			return errors.New("please correct the booking details")
		}
		return err
	}

	if *now {
		err = m.PayNow(ctx)
	} else {
		err = m.PayLater(ctx)
	}
	snap := m.Snapshot()
	if snap.Banner != "" {
		fmt.Fprintln(a.errOut, snap.Banner)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Booked %s for %s\n", course.Title, snap.Request.Attendee.FullName())
	if snap.Request.EnrollmentID != "" {
		fmt.Fprintf(a.out, "enrollment: %s\n", snap.Request.EnrollmentID)
	}
	if snap.PaymentID != "" {
		fmt.Fprintf(a.out, "payment: %s\n", snap.PaymentID)
	}
	return nil
}

func runAdmin(ctx context.Context, a *app, _ []string) error {
	c, done, err := a.newClient(ctx)
	if err != nil {
		return err
	}
	defer done()

	phase, err := c.Enter(ctx, access.AdminRoute).Wait(ctx)
	if !phase.Allowed() {
		if err != nil {
			return fmt.Errorf("admin dashboard %s: %s", phase, api.Message(err))
		}
		return fmt.Errorf("admin dashboard %s", phase)
	}
	fmt.Fprintf(a.out, "admin dashboard %s\n", phase)
	if err != nil {
		fmt.Fprintf(a.errOut, "not confirmed by the backend: %s\n", api.Message(err))
	}
	return nil
}

func runSubscribe(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errors.New("subscribe needs an email address")
	}
	c, done, err := a.newClient(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := c.API.SubscribeEmail(ctx, args[0]); err != nil {
		return errors.New(api.Message(err))
	}
	fmt.Fprintln(a.out, "Subscribed")
	return nil
}
