package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"librarydesk/library"

	"github.com/spf13/cobra"
)

const timeLayout = "2006-01-02 15:04"

// ------------------ Accounts ------------------

func newRegisterCmd(a *app) *cobra.Command {
	var username, email string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account with a 30-day Basic Plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := a.readPassword("Password: ")
			if err != nil {
				return err
			}
			confirm, err := a.readPassword("Confirm password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return errors.New("passwords do not match")
			}

			user, err := a.mgr.Register(cmd.Context(), library.Registration{Username: username, Email: email, Password: password})
			if err != nil {
				return err
			}
			return a.emit(user, func(w io.Writer) {
				fmt.Fprintf(w, "Registered %s (ID %d) with a 30-day Basic Plan\n", user.Username, user.ID)
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "account name (3-32 letters or digits)")
	cmd.Flags().StringVar(&email, "email", "", "contact email")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Check credentials and show the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := a.authenticate(cmd.Context(), username)
			if err != nil {
				return err
			}
			sub, err := a.mgr.CurrentSubscription(cmd.Context(), user.Username)
			if err != nil && !errors.Is(err, library.ErrNotFound) {
				return err
			}
			return a.emit(struct {
				User         *library.User         `json:"user"`
				Subscription *library.Subscription `json:"subscription,omitempty"`
			}{user, sub}, func(w io.Writer) {
				role := "subscriber"
				if user.IsAdmin {
					role = "administrator"
				}
				fmt.Fprintf(w, "Welcome %s (ID %d, %s)\n", user.Username, user.ID, role)
				if sub != nil {
					fmt.Fprintf(w, "Subscription: %s until %s\n", sub.PlanName, sub.EndDate.Local().Format(timeLayout))
				} else {
					fmt.Fprintln(w, "No active subscription")
				}
			})
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "username")
	return cmd
}

func newUsersCmd(a *app) *cobra.Command {
	var admin string
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List accounts (administrators only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.authenticateAdmin(cmd.Context(), admin); err != nil {
				return err
			}
			users, err := a.mgr.GetAllUsers(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(users, func(w io.Writer) {
				fmt.Fprintf(w, "%-5s %-20s %-30s %-6s %s\n", "ID", "Username", "Email", "Admin", "Last login")
				fmt.Fprintln(w, strings.Repeat("-", 85))
				for _, u := range users {
					last := "never"
					if u.LastLogin != nil {
						last = u.LastLogin.Local().Format(timeLayout)
					}
					fmt.Fprintf(w, "%-5d %-20s %-30s %-6t %s\n", u.ID, u.Username, u.Email, u.IsAdmin, last)
				}
			})
		},
	}
	cmd.Flags().StringVar(&admin, "user", "", "administrator username")
	return cmd
}

// ------------------ Subscriptions ------------------

func newPlansCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List subscription plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plans, err := a.mgr.Plans(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(plans, func(w io.Writer) {
				fmt.Fprintf(w, "%-16s %-8s %-8s %s\n", "Plan", "Price", "Months", "Description")
				fmt.Fprintln(w, strings.Repeat("-", 75))
				for _, p := range plans {
					fmt.Fprintf(w, "%-16s %-8.2f %-8d %s\n", p.Name, p.Price, p.DurationMonths, p.Description)
				}
			})
		},
	}
}

func newSubscribeCmd(a *app) *cobra.Command {
	var (
		username string
		plan     string
		card     library.CardDetails
	)
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Buy a subscription plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := a.authenticate(cmd.Context(), username)
			if err != nil {
				return err
			}
			if card.CVV == "" {
				if card.CVV, err = a.readPassword("CVV: "); err != nil {
					return err
				}
			}
			sub, err := a.mgr.Subscribe(cmd.Context(), user.Username, plan, card)
			if errors.Is(err, library.ErrActiveSubscription) {
				current, _ := a.mgr.CurrentSubscription(cmd.Context(), user.Username)
				if current != nil {
					return fmt.Errorf("%w: %s until %s", err, current.PlanName, current.EndDate.Local().Format(timeLayout))
				}
			}
			if err != nil {
				return err
			}
			return a.emit(sub, func(w io.Writer) {
				fmt.Fprintf(w, "Subscribed to %s until %s (payment %s)\n",
					sub.PlanName, sub.EndDate.Local().Format(timeLayout), sub.PaymentReference)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&username, "user", "", "username")
	f.StringVar(&plan, "plan", "", "plan name, e.g. \"Standard Plan\"")
	f.StringVar(&card.Method, "method", library.PaymentVisa, "payment method: "+strings.Join(library.PaymentMethods, ", "))
	f.StringVar(&card.Holder, "holder", "", "card holder name")
	f.StringVar(&card.Number, "number", "", "card number")
	f.StringVar(&card.Expiry, "expiry", "", "expiry date (MM/YY)")
	f.StringVar(&card.CVV, "cvv", "", "card security code (prompted when omitted)")
	f.StringVar(&card.BillingAddress, "billing-address", "", "billing address")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func newSubscriptionCmd(a *app) *cobra.Command {
	var (
		username string
		history  bool
	)
	cmd := &cobra.Command{
		Use:   "subscription",
		Short: "Show the current subscription",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := a.authenticate(cmd.Context(), username)
			if err != nil {
				return err
			}
			if history {
				subs, err := a.mgr.SubscriptionHistory(cmd.Context(), user.Username)
				if err != nil {
					return err
				}
				return a.emit(subs, func(w io.Writer) {
					for _, s := range subs {
						printSubscription(w, s)
					}
				})
			}
			sub, err := a.mgr.CurrentSubscription(cmd.Context(), user.Username)
			if errors.Is(err, library.ErrNotFound) {
				return a.emit(nil, func(w io.Writer) { fmt.Fprintln(w, "No active subscription") })
			}
			if err != nil {
				return err
			}
			return a.emit(sub, func(w io.Writer) { printSubscription(w, sub) })
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "username")
	cmd.Flags().BoolVar(&history, "history", false, "show every subscription")
	return cmd
}

func printSubscription(w io.Writer, s *library.Subscription) {
	fmt.Fprintf(w, "%-16s %s -> %s  %-8s %s\n", s.PlanName,
		s.StartDate.Local().Format(timeLayout), s.EndDate.Local().Format(timeLayout), s.PaymentStatus, s.PaymentReference)
}

// ------------------ Catalog ------------------

func newBookCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "book", Short: "Manage the catalog"}
	cmd.AddCommand(newBookAddCmd(a), newBookListCmd(a), newBookSearchCmd(a), newBookShowCmd(a),
		newBookUpdateCmd(a), newBookDeleteCmd(a))
	return cmd
}

func newBookAddCmd(a *app) *cobra.Command {
	var (
		admin    string
		entry    library.CatalogEntry
		acquired string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a catalog entry (administrators only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.authenticateAdmin(cmd.Context(), admin); err != nil {
				return err
			}
			if acquired == "" {
				entry.AcquisitionDate = library.DateOf(time.Now())
			} else {
				d, err := library.ParseDate(acquired)
				if err != nil {
					return err
				}
				entry.AcquisitionDate = d
			}
			id, err := a.mgr.AddBook(cmd.Context(), &entry)
			if err != nil {
				return err
			}
			return a.emit(entry, func(w io.Writer) {
				fmt.Fprintf(w, "Added %q as book ID %d (code %s)\n", entry.Title, id, entry.CatalogCode)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&admin, "user", "", "administrator username (default $ADMIN_USERNAME)")
	f.StringVar(&entry.CatalogCode, "code", "", "catalog code")
	f.StringVar(&entry.CallNumber, "call-number", "", "shelf call number")
	f.StringVar(&acquired, "acquired", "", "acquisition date YYYY-MM-DD (default today)")
	f.StringVar(&entry.Title, "title", "", "title")
	f.StringVar(&entry.Author, "author", "", "author")
	f.StringVar(&entry.Publisher, "publisher", "", "publisher")
	f.StringVar(&entry.Keywords, "keywords", "", "keywords")
	f.StringVar(&entry.EditorID, "editor", "", "editor id")
	f.StringVar(&entry.ThemeID, "theme", "", "theme id")
	f.IntVar(&entry.Quantity, "quantity", 1, "copies owned")
	return cmd
}

func printBooks(w io.Writer, books []*library.CatalogEntry) {
	if len(books) == 0 {
		fmt.Fprintln(w, "No books found.")
		return
	}
	fmt.Fprintf(w, "%-5s %-12s %-30s %-25s %-4s\n", "ID", "Code", "Title", "Author", "Qty")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, b := range books {
		fmt.Fprintln(w, library.PrettyBook(b))
	}
}

func newBookListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			books, err := a.mgr.ListBooks(cmd.Context())
			if err != nil {
				return err
			}
			return a.emit(books, func(w io.Writer) { printBooks(w, books) })
		},
	}
}

func newBookSearchCmd(a *app) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Search title, author, keywords and publisher (subscribers only)",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := a.authenticate(cmd.Context(), username)
			if err != nil {
				return err
			}
			term := strings.Join(args, " ")
			books, err := a.mgr.SearchBooks(cmd.Context(), user.Username, term)
			if err != nil {
				return err
			}
			return a.emit(books, func(w io.Writer) {
				fmt.Fprintf(w, "Found %d book(s) matching '%s':\n", len(books), term)
				printBooks(w, books)
			})
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "subscriber username")
	return cmd
}

func newBookShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a catalog entry with its loans and waitlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			book, err := a.mgr.GetBook(ctx, id)
			if err != nil {
				return err
			}
			loans, err := a.mgr.SubscribersByBook(ctx, book.CatalogCode)
			if err != nil {
				return err
			}
			queue, err := a.mgr.Waitlist(ctx, book.CatalogCode)
			if err != nil {
				return err
			}
			return a.emit(struct {
				Book     *library.CatalogEntry    `json:"book"`
				Loans    []*library.Loan          `json:"loans"`
				Waitlist []*library.WaitlistEntry `json:"waitlist"`
			}{book, loans, queue}, func(w io.Writer) {
				fmt.Fprintf(w, "%s by %s (%s)\n", book.Title, book.Author, book.Publisher)
				fmt.Fprintf(w, "ID %d  code %s  call number %s  acquired %s  copies %d\n",
					book.ID, book.CatalogCode, book.CallNumber, book.AcquisitionDate, book.Quantity)
				if book.Keywords != "" {
					fmt.Fprintf(w, "Keywords: %s\n", book.Keywords)
				}
				printLoans(w, loans)
				printWaitlist(w, queue)
			})
		},
	}
}

func newBookUpdateCmd(a *app) *cobra.Command {
	var (
		admin                               string
		title, author, keywords, callNumber string
		quantity                            int
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit a catalog entry (administrators only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if _, err := a.authenticateAdmin(cmd.Context(), admin); err != nil {
				return err
			}
			var u library.BookUpdate
			f := cmd.Flags()
			if f.Changed("title") {
				u.Title = &title
			}
			if f.Changed("author") {
				u.Author = &author
			}
			if f.Changed("keywords") {
				u.Keywords = &keywords
			}
			if f.Changed("call-number") {
				u.CallNumber = &callNumber
			}
			if f.Changed("quantity") {
				u.Quantity = &quantity
			}
			if err := a.mgr.UpdateBook(cmd.Context(), id, u); err != nil {
				return err
			}
			book, err := a.mgr.GetBook(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.emit(book, func(w io.Writer) { fmt.Fprintf(w, "Updated book %d: %s\n", id, book.Title) })
		},
	}
	f := cmd.Flags()
	f.StringVar(&admin, "user", "", "administrator username (default $ADMIN_USERNAME)")
	f.StringVar(&title, "title", "", "new title")
	f.StringVar(&author, "author", "", "new author")
	f.StringVar(&keywords, "keywords", "", "new keywords")
	f.StringVar(&callNumber, "call-number", "", "new call number")
	f.IntVar(&quantity, "quantity", 0, "new number of copies")
	return cmd
}

func newBookDeleteCmd(a *app) *cobra.Command {
	var admin string
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a catalog entry (administrators only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if _, err := a.authenticateAdmin(cmd.Context(), admin); err != nil {
				return err
			}
			if err := a.mgr.DeleteBook(cmd.Context(), id); err != nil {
				return err
			}
			return a.emit(map[string]int64{"deleted": id}, func(w io.Writer) { fmt.Fprintf(w, "Deleted book %d\n", id) })
		},
	}
	cmd.Flags().StringVar(&admin, "user", "", "administrator username (default $ADMIN_USERNAME)")
	return cmd
}

// ------------------ Loans ------------------

func newLoanCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "loan", Short: "Borrow and renew books"}
	cmd.AddCommand(newLoanCreateCmd(a), newLoanRenewCmd(a), newLoanListCmd(a), newLoanHoldersCmd(a))
	return cmd
}

func newLoanCreateCmd(a *app) *cobra.Command {
	var (
		username string
		bookID   int64
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Borrow a book for 15 days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := a.authenticate(cmd.Context(), username)
			if err != nil {
				return err
			}
			res, err := a.mgr.Borrow(cmd.Context(), user.Username, bookID)
			if err != nil {
				return err
			}
			return a.emit(loanOutcome{res.Outcome.String(), res.Loan}, func(w io.Writer) {
				printLoanCreated(w, user.Username, bookID, res)
			})
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "borrower username")
	cmd.Flags().Int64Var(&bookID, "book", 0, "book ID")
	_ = cmd.MarkFlagRequired("book")
	return cmd
}

// printLoanCreated reports a CreateLoan result. A lost insert race can leave
// res.Loan nil.
func printLoanCreated(w io.Writer, username string, bookID int64, res library.CreateLoanResult) {
	switch {
	case res.Loan == nil:
		fmt.Fprintf(w, "%s already has a loan for book %d\n", username, bookID)
	case !res.OK():
		fmt.Fprintf(w, "%s already has a loan for %s (due %s)\n", username, res.Loan.CatalogCode, res.Loan.ReturnDate)
	default:
		fmt.Fprintf(w, "Loaned %s to %s until %s\n", res.Loan.CatalogCode, username, res.Loan.ReturnDate)
	}
}

type loanOutcome struct {
	Outcome string        `json:"outcome"`
	Loan    *library.Loan `json:"loan,omitempty"`
}

func newLoanRenewCmd(a *app) *cobra.Command {
	var username, code string
	cmd := &cobra.Command{
		Use:   "renew",
		Short: "Extend a loan by 15 days unless someone is waiting for the book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := a.authenticate(cmd.Context(), username)
			if err != nil {
				return err
			}
			res, err := a.mgr.RenewLoan(cmd.Context(), user.ID, code)
			if err != nil {
				return err
			}
			return a.emit(loanOutcome{res.Outcome.String(), res.Loan}, func(w io.Writer) {
				switch res.Outcome {
				case library.LoanRenewed:
					fmt.Fprintf(w, "Renewed %s until %s\n", code, res.Loan.ReturnDate)
				case library.RenewalBlocked:
					fmt.Fprintf(w, "Cannot renew %s: another subscriber is waiting. Due %s\n", code, res.Loan.ReturnDate)
				default:
					fmt.Fprintf(w, "%s has no loan for %s\n", user.Username, code)
				}
			})
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "borrower username")
	cmd.Flags().StringVar(&code, "code", "", "catalog code")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func newLoanListCmd(a *app) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a subscriber's loans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := a.authenticate(cmd.Context(), username)
			if err != nil {
				return err
			}
			loans, err := a.mgr.LoansBySubscriber(cmd.Context(), user.ID)
			if err != nil {
				return err
			}
			return a.emit(loans, func(w io.Writer) {
				if len(loans) == 0 {
					fmt.Fprintln(w, "No loans.")
					return
				}
				fmt.Fprintf(w, "%-30s %-25s %-11s %-11s\n", "Title", "Author", "Loaned", "Due")
				fmt.Fprintln(w, strings.Repeat("-", 80))
				for _, l := range loans {
					fmt.Fprintf(w, "%-30s %-25s %-11s %-11s\n", l.Title, l.Author, l.LoanDate, l.ReturnDate)
				}
			})
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "subscriber username")
	return cmd
}

func newLoanHoldersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "holders <catalog-code>",
		Short: "List every loan of a catalog code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loans, err := a.mgr.SubscribersByBook(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(loans, func(w io.Writer) { printLoans(w, loans) })
		},
	}
}

func printLoans(w io.Writer, loans []*library.Loan) {
	if len(loans) == 0 {
		fmt.Fprintln(w, "No loans.")
		return
	}
	fmt.Fprintf(w, "%-12s %-11s %-11s %s\n", "Subscriber", "Loaned", "Due", "Renewed")
	for _, l := range loans {
		fmt.Fprintf(w, "%-12d %-11s %-11s %t\n", l.SubscriberID, l.LoanDate, l.ReturnDate, l.IsRenewed)
	}
}

// ------------------ Waitlist ------------------

func newWaitlistCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "waitlist", Short: "Reserve books and manage their queues"}
	cmd.AddCommand(newWaitlistAddCmd(a), newWaitlistListCmd(a), newWaitlistRemoveCmd(a),
		newWaitlistPromoteCmd(a), newWaitlistClearCmd(a))
	return cmd
}

func newWaitlistAddCmd(a *app) *cobra.Command {
	var (
		username string
		bookID   int64
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Join the waitlist for a book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := a.authenticate(cmd.Context(), username)
			if err != nil {
				return err
			}
			entry, err := a.mgr.Reserve(cmd.Context(), user.Username, bookID)
			if err != nil {
				return err
			}
			queue, err := a.mgr.Waitlist(cmd.Context(), entry.CatalogCode)
			if err != nil {
				return err
			}
			return a.emit(entry, func(w io.Writer) {
				fmt.Fprintf(w, "%s reserved %s on %s\n", user.Username, entry.CatalogCode, entry.RequestDate)
				for i, e := range queue {
					if e.ID == entry.ID {
						fmt.Fprintf(w, "Position in queue: %d\n", i+1)
					}
				}
			})
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "subscriber username")
	cmd.Flags().Int64Var(&bookID, "book", 0, "book ID")
	_ = cmd.MarkFlagRequired("book")
	return cmd
}

func newWaitlistListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <catalog-code>",
		Short: "Show the queue for a catalog code, earliest request first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := a.mgr.Waitlist(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.emit(queue, func(w io.Writer) { printWaitlist(w, queue) })
		},
	}
}

func printWaitlist(w io.Writer, queue []*library.WaitlistEntry) {
	if len(queue) == 0 {
		fmt.Fprintln(w, "No waitlist requests.")
		return
	}
	fmt.Fprintf(w, "%-9s %-12s %-11s %s\n", "Position", "Subscriber", "Requested", "Priority")
	for i, e := range queue {
		priority := "-"
		if e.Promoted() {
			priority = e.PriorityDate.String()
		}
		fmt.Fprintf(w, "%-9d %-12d %-11s %s\n", i+1, e.SubscriberID, e.RequestDate, priority)
	}
}

func newWaitlistRemoveCmd(a *app) *cobra.Command {
	var username, code string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Leave the waitlist for a catalog code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := a.authenticate(cmd.Context(), username)
			if err != nil {
				return err
			}
			n, err := a.mgr.RemoveWaitlistRequest(cmd.Context(), user.ID, code)
			if err != nil {
				return err
			}
			return a.emit(map[string]int64{"removed": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Removed %d request(s) by %s for %s\n", n, user.Username, code)
			})
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "subscriber username")
	cmd.Flags().StringVar(&code, "code", "", "catalog code")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func newWaitlistPromoteCmd(a *app) *cobra.Command {
	var admin string
	cmd := &cobra.Command{
		Use:   "promote <catalog-code>",
		Short: "Give priority to the longest-waiting request (administrators only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.authenticateAdmin(cmd.Context(), admin); err != nil {
				return err
			}
			subscriberID, ok, err := a.mgr.AssignPriority(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := struct {
				Promoted     bool  `json:"promoted"`
				SubscriberID int64 `json:"subscriber_id,omitempty"`
			}{ok, subscriberID}
			return a.emit(out, func(w io.Writer) {
				if !ok {
					fmt.Fprintf(w, "Nobody is waiting for %s\n", args[0])
					return
				}
				name := fmt.Sprintf("ID %d", subscriberID)
				if u, err := a.mgr.GetUserByID(cmd.Context(), subscriberID); err == nil {
					name = fmt.Sprintf("%s (ID %d)", u.Username, u.ID)
				}
				fmt.Fprintf(w, "Priority for %s given to %s\n", args[0], name)
			})
		},
	}
	cmd.Flags().StringVar(&admin, "user", "", "administrator username (default $ADMIN_USERNAME)")
	return cmd
}

func newWaitlistClearCmd(a *app) *cobra.Command {
	var admin string
	cmd := &cobra.Command{
		Use:   "clear <catalog-code>",
		Short: "Reset priority on every request for a catalog code (administrators only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.authenticateAdmin(cmd.Context(), admin); err != nil {
				return err
			}
			if err := a.mgr.ClearPriority(cmd.Context(), args[0]); err != nil {
				return err
			}
			return a.emit(map[string]string{"cleared": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "Priority cleared for %s\n", args[0])
			})
		},
	}
	cmd.Flags().StringVar(&admin, "user", "", "administrator username (default $ADMIN_USERNAME)")
	return cmd
}

// ------------------ Stats ------------------

type metricSample struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show circulation counters for this session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			samples, err := gatherSamples(a.mgr.Metrics())
			if err != nil {
				return err
			}
			return a.emit(samples, func(w io.Writer) {
				for _, s := range samples {
					fmt.Fprintf(w, "%-40s %-24s %g\n", s.Name, formatLabels(s.Labels), s.Value)
				}
			})
		},
	}
}

func gatherSamples(m *library.CirculationMetrics) ([]metricSample, error) {
	families, err := m.Registry().Gather()
	if err != nil {
		return nil, err
	}
	var samples []metricSample
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			s := metricSample{Name: mf.GetName(), Value: metric.GetCounter().GetValue()}
			for _, lp := range metric.GetLabel() {
				if s.Labels == nil {
					s.Labels = map[string]string{}
				}
				s.Labels[lp.GetName()] = lp.GetValue()
			}
			samples = append(samples, s)
		}
	}
	return samples, nil
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + labels[k]
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid ID: %s", s)
	}
	return id, nil
}
