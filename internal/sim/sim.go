package sim

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flash-arb/internal/admin"
	"github.com/you/flash-arb/internal/chain"
	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/dex/core"
	"github.com/you/flash-arb/internal/dex/univ3"
	v2 "github.com/you/flash-arb/internal/dex/v2"
	"github.com/you/flash-arb/internal/execution"
	"github.com/you/flash-arb/internal/ledger"
	"github.com/you/flash-arb/internal/lending"
	"github.com/you/flash-arb/internal/units"
	"go.uber.org/zap"
)

// World is an in-process chain with every contract the executor talks to.
type World struct {
	State    *chain.State
	V3       *univ3.Router
	V2       map[common.Address]*v2.V2
	Registry *core.Registry
	Facility *lending.Facility
	Controls *admin.Controls
	Ledger   *ledger.Ledger
	Executor *execution.Executor
	Owner    common.Address
	Decimals units.Decimals
	Symbols  map[string]common.Address
}

type Stores struct {
	Ledger ledger.Store
	Admin  admin.Store
}

// Build seeds a world from the sim section of cfg. Missing stores fall back
// to in-memory ones.
func Build(ctx context.Context, cfg *config.Config, stores Stores, log *zap.Logger) (*World, error) {
	if stores.Ledger == nil {
		stores.Ledger = ledger.NewMemoryStore()
	}
	if stores.Admin == nil {
		stores.Admin = admin.NewMemoryStore()
	}

	w := &World{
		State:    chain.NewState(),
		V2:       make(map[common.Address]*v2.V2, len(cfg.DEX.V2Routers)),
		Registry: core.NewRegistry(),
		Decimals: make(units.Decimals, len(cfg.Sim.Tokens)),
		Symbols:  make(map[string]common.Address, len(cfg.Sim.Tokens)),
	}
	for _, t := range cfg.Sim.Tokens {
		a, err := parseAddr("token", t.Address)
		if err != nil {
			return nil, err
		}
		w.Decimals[a] = t.Decimals
		if t.Symbol != "" {
			w.Symbols[strings.ToUpper(t.Symbol)] = a
		}
	}

	v3Addr, err := parseAddr("dex.v3_router", cfg.DEX.V3Router)
	if err != nil {
		return nil, err
	}
	w.V3 = univ3.NewRouter(w.State, v3Addr)
	for _, p := range cfg.Sim.Pools {
		if err := w.addPool(p); err != nil {
			return nil, err
		}
	}

	enabled := make(map[core.VenueID]bool, len(cfg.DEX.Venues))
	for _, id := range cfg.DEX.Venues {
		enabled[id] = true
	}
	for _, r := range cfg.DEX.V2Routers {
		if !enabled[r.ID] {
			log.Info("venue disabled", zap.String("venue", string(r.ID)))
			continue
		}
		a, err := parseAddr("dex.v2_routers", r.Address)
		if err != nil {
			return nil, err
		}
		router := v2.New(w.State, a, r.FeeBps)
		w.V2[a] = router
		w.Registry.Register(&core.Venue{ID: r.ID, Router: a, Path: router})
	}
	for _, p := range cfg.Sim.Pairs {
		if err := w.addPair(p); err != nil {
			return nil, err
		}
	}

	for _, b := range cfg.Sim.Balances {
		tok, err := w.token(b.Token)
		if err != nil {
			return nil, err
		}
		holder, err := parseAddr("sim.balances.holder", b.Holder)
		if err != nil {
			return nil, err
		}
		amt, err := w.amount(tok, b.Amount)
		if err != nil {
			return nil, err
		}
		if err := w.State.Mint(tok, holder, amt); err != nil {
			return nil, err
		}
	}

	lendingAddr, err := parseAddr("lending.address", cfg.Lending.Address)
	if err != nil {
		return nil, err
	}
	w.Facility = lending.NewFacility(w.State, lendingAddr, cfg.Lending.PremiumBps, log)

	if w.Owner, err = parseAddr("executor.owner", cfg.Executor.Owner); err != nil {
		return nil, err
	}
	if w.Controls, err = admin.New(ctx, w.Owner, stores.Admin, log); err != nil {
		return nil, err
	}
	for _, s := range cfg.DEX.ApprovedRouters {
		r, err := parseAddr("dex.approved_routers", s)
		if err != nil {
			return nil, err
		}
		if w.Controls.RouterApproved(r) {
			continue
		}
		if err := w.Controls.SetRouterApproval(ctx, w.Owner, r, true); err != nil {
			return nil, err
		}
	}
	if w.Ledger, err = ledger.New(ctx, stores.Ledger, log); err != nil {
		return nil, err
	}

	execAddr, err := parseAddr("executor.address", cfg.Executor.Address)
	if err != nil {
		return nil, err
	}
	w.Executor = execution.NewExecutor(execAddr, w.State, w.Facility, w.V3, w.Registry, w.Controls, w.Ledger, log)
	w.Executor.SetDecimals(w.Decimals)

	log.Info("sim world ready",
		zap.Int("tokens", len(w.Decimals)),
		zap.Int("pools", len(cfg.Sim.Pools)),
		zap.Int("pairs", len(cfg.Sim.Pairs)),
		zap.Int("v2_routers", len(w.V2)),
	)
	return w, nil
}

func (w *World) addPool(p config.PoolCfg) error {
	a, err := w.token(p.TokenA)
	if err != nil {
		return err
	}
	b, err := w.token(p.TokenB)
	if err != nil {
		return err
	}
	addr, err := parseAddr("sim.pools.address", p.Address)
	if err != nil {
		return err
	}
	if _, err := w.V3.CreatePool(a, b, p.Fee, addr, p.Concentration); err != nil {
		return err
	}
	return w.seed(addr, a, p.ReserveA, b, p.ReserveB)
}

func (w *World) addPair(p config.PairCfg) error {
	routerAddr, err := parseAddr("sim.pairs.router", p.Router)
	if err != nil {
		return err
	}
	router, ok := w.V2[routerAddr]
	if !ok {
		return fmt.Errorf("sim: pair on unknown or disabled router %s", routerAddr.Hex())
	}
	a, err := w.token(p.TokenA)
	if err != nil {
		return err
	}
	b, err := w.token(p.TokenB)
	if err != nil {
		return err
	}
	addr, err := parseAddr("sim.pairs.address", p.Address)
	if err != nil {
		return err
	}
	if _, err := router.CreatePair(a, b, addr); err != nil {
		return err
	}
	return w.seed(addr, a, p.ReserveA, b, p.ReserveB)
}

func (w *World) seed(holder, a common.Address, ra string, b common.Address, rb string) error {
	amtA, err := w.amount(a, ra)
	if err != nil {
		return err
	}
	amtB, err := w.amount(b, rb)
	if err != nil {
		return err
	}
	if err := w.State.Mint(a, holder, amtA); err != nil {
		return err
	}
	return w.State.Mint(b, holder, amtB)
}

// token resolves a symbol declared in sim.tokens or a raw address.
func (w *World) token(s string) (common.Address, error) {
	if a, ok := w.Symbols[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return a, nil
	}
	return parseAddr("token", s)
}

// amount parses a whole-token amount ("1.5") into base units.
func (w *World) amount(token common.Address, s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return new(big.Int), nil
	}
	v, err := w.Decimals.Parse(token, s)
	if err != nil {
		return nil, fmt.Errorf("sim: amount %q: %w", s, err)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("sim: negative amount %q", s)
	}
	return v, nil
}

func parseAddr(field, s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("sim: %s %q is not an address", field, s)
	}
	return common.HexToAddress(s), nil
}
