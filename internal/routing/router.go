// Package routing turns chat commands from channels into marketplace
// operations and sends the replies back.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/arko05roy/swarm/internal/agent"
	"github.com/arko05roy/swarm/internal/config"
	"github.com/arko05roy/swarm/internal/domain"
	"github.com/arko05roy/swarm/internal/engine"
	"github.com/arko05roy/swarm/internal/ledger"
	"github.com/arko05roy/swarm/internal/logging"
	"github.com/arko05roy/swarm/internal/ratelimit"
	"github.com/arko05roy/swarm/internal/registry"
	"github.com/arko05roy/swarm/internal/wallet"
)

const (
	listSize      = 10
	maxResultSize = 300
)

// Sender delivers replies. *channel.Registry satisfies it.
type Sender interface {
	Send(ctx context.Context, msg domain.OutboundMessage) error
}

// Request is one parsed chat command.
type Request struct {
	User    string
	Source  string
	Command string
	Args    []string
	Raw     string // everything after the command word
}

type handler func(ctx context.Context, req Request) (string, error)

// Router dispatches chat commands.
type Router struct {
	reg     *registry.Registry
	eng     *engine.Engine
	ledger  *ledger.Ledger
	book    *wallet.AddressBook
	limiter ratelimit.Limiter
	limits  map[string]int
	asset   string
	log     *logging.Logger

	commands map[string]handler
}

// Option configures a Router.
type Option func(*Router)

// WithRateLimits caps run, invest and withdraw per user using l.
func WithRateLimits(l ratelimit.Limiter, limits map[string]int) Option {
	return func(r *Router) {
		r.limiter = l
		r.limits = limits
	}
}

// WithAddressBook enables the wallet command.
func WithAddressBook(b *wallet.AddressBook) Option {
	return func(r *Router) { r.book = b }
}

// WithAsset sets the unit amounts are shown in.
func WithAsset(asset string) Option {
	return func(r *Router) { r.asset = asset }
}

// NewRouter creates a command router.
func NewRouter(reg *registry.Registry, eng *engine.Engine, l *ledger.Ledger, log *logging.Logger, opts ...Option) *Router {
	r := &Router{
		reg:    reg,
		eng:    eng,
		ledger: l,
		asset:  "STX",
		log:    log.Sub("routing"),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.commands = map[string]handler{
		"help":      r.help,
		"agents":    r.agents,
		"search":    r.search,
		"run":       r.run,
		"invest":    r.invest,
		"withdraw":  r.withdraw,
		"portfolio": r.portfolio,
		"bot":       r.bot,
		"top":       r.top,
		"wallet":    r.wallet,
	}
	return r
}

// Parse splits a command line into a Request.
func Parse(user, source, line string) Request {
	line = strings.TrimSpace(line)
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	return Request{
		User:    user,
		Source:  source,
		Command: strings.ToLower(cmd),
		Args:    strings.Fields(rest),
		Raw:     rest,
	}
}

// Dispatch runs one command and returns the reply text.
func (r *Router) Dispatch(ctx context.Context, req Request) string {
	h, ok := r.commands[req.Command]
	if !ok {
		return fmt.Sprintf("Unknown command %q. Try help.", req.Command)
	}
	reply, err := h(ctx, req)
	if err != nil {
		r.log.Debug().Err(err).Str("user", req.User).Str("command", req.Command).Msg("command failed")
		return "Error: " + err.Error()
	}
	return reply
}

// HandleInbound runs the command in msg and replies where it came from.
func (r *Router) HandleInbound(ctx context.Context, out Sender, msg domain.InboundMessage) {
	req := Parse(msg.From, msg.ChannelID, msg.Body)
	r.log.Info().
		Str("channel", msg.ChannelID).
		Str("from", msg.From).
		Str("chatId", msg.ChatID).
		Str("command", req.Command).
		Msg("routing command")

	reply := domain.OutboundMessage{
		ChannelID: msg.ChannelID,
		To:        msg.ReplyTarget(),
		Body:      r.Dispatch(ctx, req),
	}
	if err := out.Send(ctx, reply); err != nil {
		r.log.Error().Err(err).
			Str("channel", msg.ChannelID).
			Str("to", reply.To).
			Msg("failed to send reply")
	}
}

// Wire installs the router as the handler of every channel in src.
func (r *Router) Wire(ctx context.Context, src interface {
	Sender
	OnMessage(func(domain.InboundMessage))
}) {
	src.OnMessage(func(msg domain.InboundMessage) {
		go r.HandleInbound(ctx, src, msg)
	})
}

func (r *Router) limit(ctx context.Context, user, action string) error {
	return ratelimit.Check(ctx, r.limiter, user, action, r.limits[action])
}

func (r *Router) amount(v float64) string {
	return fmt.Sprintf("%.4f %s", v, r.asset)
}

func usage(format string) error {
	return domain.Errorf(domain.CodeInvalidArgument, "usage: %s", format)
}

func parseAmount(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, domain.Errorf(domain.CodeInvalidAmount, "%q is not a number", s)
	}
	return v, nil
}

func (r *Router) help(context.Context, Request) (string, error) {
	lines := []string{
		"Swarm commands:",
		"agents - list active agents",
		"search <query> - find agents by name, description or capability",
		"run <agent> [json] - execute an agent",
		"invest <agent> <amount> - buy a share of an agent's earnings",
		"withdraw <agent> <amount|all> - take earnings and principal out",
		"portfolio - your investments",
		"bot <agent> - investment stats for an agent",
		"top - best investment opportunities",
		"wallet [address] - show or set your payout address",
	}
	return strings.Join(lines, "\n"), nil
}

func (r *Router) formatListings(ls []registry.Listing) string {
	if len(ls) == 0 {
		return "No agents found."
	}
	var b strings.Builder
	for i, l := range ls {
		if i == listSize {
			fmt.Fprintf(&b, "...and %d more\n", len(ls)-listSize)
			break
		}
		fmt.Fprintf(&b, "%s (%s) - %s, %d calls, %.0f%% success\n",
			l.ID, l.Name, r.amount(l.Pricing.BasePrice+l.Pricing.PricePerCall), l.Metadata.Calls, l.Metadata.SuccessRate)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) agents(context.Context, Request) (string, error) {
	ls := r.reg.List(registry.ListOptions{ActiveOnly: true, SortBy: registry.SortByCalls})
	return fmt.Sprintf("%d active agents:\n%s", len(ls), r.formatListings(ls)), nil
}

func (r *Router) search(_ context.Context, req Request) (string, error) {
	if req.Raw == "" {
		return "", usage("search <query>")
	}
	return r.formatListings(r.reg.Search(req.Raw)), nil
}

func (r *Router) run(ctx context.Context, req Request) (string, error) {
	if len(req.Args) == 0 {
		return "", usage("run <agent> [json input]")
	}
	id := req.Args[0]
	input := map[string]any{}
	if raw := strings.TrimSpace(strings.TrimPrefix(req.Raw, id)); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			return "", domain.Errorf(domain.CodeInvalidArgument, "input must be a JSON object: %v", err)
		}
	}
	if err := r.limit(ctx, req.User, config.ActionRun); err != nil {
		return "", err
	}

	res := r.eng.Execute(ctx, id, input, agent.Caller{UserID: req.User, Source: req.Source}, engine.Options{})
	if err := res.Err(); err != nil {
		return "", err
	}
	data, err := json.Marshal(res.Data)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	out := string(data)
	if len(out) > maxResultSize {
		out = out[:maxResultSize] + "..."
	}
	return fmt.Sprintf("%s: %s (cost %s)", id, out, r.amount(res.Cost)), nil
}

func (r *Router) invest(ctx context.Context, req Request) (string, error) {
	if len(req.Args) != 2 {
		return "", usage("invest <agent> <amount>")
	}
	amt, err := parseAmount(req.Args[1])
	if err != nil {
		return "", err
	}
	if err := r.limit(ctx, req.User, config.ActionInvest); err != nil {
		return "", err
	}
	inv, err := r.ledger.Invest(ctx, req.User, req.Args[0], amt)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Invested %s in %s. Your position: %s, ownership %.2f%%.",
		r.amount(inv.Amount), inv.AgentName, r.amount(inv.TotalInvested), inv.Ownership), nil
}

func (r *Router) withdraw(ctx context.Context, req Request) (string, error) {
	if len(req.Args) != 2 {
		return "", usage("withdraw <agent> <amount|all>")
	}
	agentID := req.Args[0]
	all := strings.EqualFold(req.Args[1], "all")
	var amt float64
	if !all {
		var err error
		if amt, err = parseAmount(req.Args[1]); err != nil {
			return "", err
		}
	}
	if err := r.limit(ctx, req.User, config.ActionWithdraw); err != nil {
		return "", err
	}

	var (
		w   ledger.Withdrawal
		err error
	)
	if all {
		w, err = r.ledger.WithdrawAll(ctx, req.User, agentID)
	} else {
		w, err = r.ledger.Withdraw(ctx, req.User, agentID, amt)
	}
	if err != nil {
		return "", err
	}

	msg := fmt.Sprintf("Withdrew %s from %s (%s earnings, %s principal).",
		r.amount(w.TotalWithdrawn), agentID, r.amount(w.EarningsWithdrawn), r.amount(w.PrincipalWithdrawn))
	if w.Closed {
		msg += " Position closed."
	} else {
		msg += fmt.Sprintf(" Remaining: %s, ownership %.2f%%.", r.amount(w.RemainingInvestment), w.RemainingOwnership)
	}
	if w.TxID != "" {
		msg += " Tx: " + w.TxID
	}
	return msg, nil
}

func (r *Router) portfolio(_ context.Context, req Request) (string, error) {
	ps := r.ledger.InvestorPortfolio(req.User)
	if len(ps) == 0 {
		return "You have no investments yet. Try top.", nil
	}
	var (
		b               strings.Builder
		invested, value float64
	)
	for _, p := range ps {
		invested += p.Invested
		value += p.CurrentValue
		fmt.Fprintf(&b, "%s: invested %s, earned %s, ROI %.2f%%, ownership %.2f%%\n",
			p.AgentName, r.amount(p.Invested), r.amount(p.Earned), p.ROI, p.Ownership)
	}
	fmt.Fprintf(&b, "Total: invested %s, value %s", r.amount(invested), r.amount(value))
	return b.String(), nil
}

func (r *Router) bot(_ context.Context, req Request) (string, error) {
	if len(req.Args) != 1 {
		return "", usage("bot <agent>")
	}
	s, err := r.ledger.BotStats(req.Args[0])
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d investors, %s invested, %s earned over %d calls (%s per call), projected APY %.2f%%",
		s.AgentName, s.InvestorCount, r.amount(s.TotalInvested), r.amount(s.TotalEarnings),
		s.Calls, r.amount(s.AvgEarningPerCall), s.ProjectedAPY)
	for i, st := range s.TopInvestors {
		fmt.Fprintf(&b, "\n%d. %s %s (%.2f%%)", i+1, st.InvestorID, r.amount(st.Invested), st.Ownership)
	}
	return b.String(), nil
}

func (r *Router) top(context.Context, Request) (string, error) {
	ops := r.ledger.TopOpportunities(5)
	if len(ops) == 0 {
		return "No active agents to invest in.", nil
	}
	var b strings.Builder
	b.WriteString("Top opportunities:")
	for i, o := range ops {
		fmt.Fprintf(&b, "\n%d. %s (%s) APY %.2f%%, %s invested by %d",
			i+1, o.AgentName, o.AgentID, o.ProjectedAPY, r.amount(o.TotalInvested), o.InvestorCount)
	}
	return b.String(), nil
}

func (r *Router) wallet(_ context.Context, req Request) (string, error) {
	if r.book == nil {
		return "", domain.Errorf(domain.CodeInvalidArgument, "payouts are not enabled")
	}
	if len(req.Args) == 0 {
		addr, ok := r.book.Address(req.User)
		if !ok {
			return "No payout address set. Use wallet <address>.", nil
		}
		return "Payout address: " + addr, nil
	}
	if err := r.book.SetAddress(req.User, req.Args[0]); err != nil {
		return "", err
	}
	addr, _ := r.book.Address(req.User)
	return "Payout address set to " + addr, nil
}

// Commands lists the command names the router understands.
func (r *Router) Commands() []string {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
