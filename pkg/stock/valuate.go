package stock

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stockmeter/pkg/cache"
	"stockmeter/pkg/market"
	"stockmeter/pkg/valuation"
)

// Valuate builds a valuation report for symbol. The quote is required.
// Financials may be missing for funds and very new listings; profile,
// dividends, history and individual peers are optional and only add
// warnings to the report when they cannot be fetched.
func (s *Service) Valuate(ctx context.Context, symbol string, peers []string) (valuation.Report, error) {
	sym, err := market.NormalizeSymbol(symbol)
	if err != nil {
		return valuation.Report{}, err
	}
	peerSyms, err := normalizeAll(peers)
	if err != nil {
		return valuation.Report{}, err
	}
	peerSyms = slices.DeleteFunc(peerSyms, func(p string) bool { return p == sym })
	if len(peerSyms) > MaxPeers {
		return valuation.Report{}, fmt.Errorf("%w: at most %d peers", ErrTooManySymbols, MaxPeers)
	}
	slices.Sort(peerSyms)

	key := cache.ValuationKey(sym, peerSyms...)
	var rep valuation.Report
	hit := s.cache != nil && s.cache.Get(ctx, key, &rep)
	if !hit {
		if rep, err = s.valuate(ctx, sym, peerSyms); err != nil {
			return valuation.Report{}, err
		}
		if s.cache != nil {
			s.cache.Set(ctx, key, rep, s.reportTTL(rep))
		}
	}
	s.logger.Info("valuation",
		zap.String("symbol", sym),
		zap.Bool("cached", hit),
		zap.String("verdict", string(rep.Verdict)),
		zap.String("fair_value", rep.FairValue.String()))
	return rep, nil
}

// reportTTL keeps a report built from degraded inputs only as long as a
// quote, so a transient upstream gap is retried soon.
func (s *Service) reportTTL(rep valuation.Report) time.Duration {
	if len(rep.Warnings) > 0 {
		return min(s.ttls.Valuation, s.ttls.Quote)
	}
	return s.ttls.Valuation
}

func (s *Service) valuate(ctx context.Context, sym string, peers []string) (valuation.Report, error) {
	var (
		in        = valuation.Input{AsOf: s.now().UTC()}
		warnings  = make([]string, 5)
		multiples []valuation.PeerMultiples
	)
	warn := func(slot int, what string, err error) {
		s.logger.Warn("valuation input missing", zap.String("symbol", sym), zap.String("input", what), zap.Error(err))
		warnings[slot] = fmt.Sprintf("%s unavailable: %v", what, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		q, err := s.Quote(gctx, sym)
		if err != nil {
			return fmt.Errorf("quote: %w", err)
		}
		in.Quote = q
		return nil
	})
	g.Go(func() error {
		f, err := s.Financials(gctx, sym)
		switch {
		case err == nil:
			in.Financials = f
		case degradable(err):
			warn(0, "financials", err)
		default:
			return fmt.Errorf("financials: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		p, err := s.Profile(gctx, sym)
		if err != nil {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			warn(1, "profile", err)
			return nil
		}
		in.Profile = p
		return nil
	})
	g.Go(func() error {
		d, err := s.Dividends(gctx, sym)
		if err != nil {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			warn(2, "dividends", err)
			return nil
		}
		in.Dividends = d
		return nil
	})
	g.Go(func() error {
		end := in.AsOf
		bars, err := s.History(gctx, sym, end.Add(-HistoryWindow), end, market.Daily)
		if err != nil {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			warn(3, "price history", err)
			return nil
		}
		in.History = bars
		return nil
	})
	if len(peers) > 0 {
		g.Go(func() error {
			var err error
			multiples, err = s.peerMultiples(gctx, peers)
			if err != nil {
				return err
			}
			if len(multiples) < len(peers) {
				warnings[4] = fmt.Sprintf("%d of %d peers unavailable", len(peers)-len(multiples), len(peers))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return valuation.Report{}, err
	}
	in.Peers = multiples

	rep := s.valuation.Evaluate(in)
	rep.Symbol = sym
	rep.Sources = map[string]string{
		"quote":      in.Quote.Provider,
		"profile":    in.Profile.Provider,
		"financials": in.Financials.Provider,
	}
	for k, v := range rep.Sources {
		if v == "" {
			delete(rep.Sources, k)
		}
	}
	for _, w := range warnings {
		if w != "" {
			rep.Warnings = append(rep.Warnings, w)
		}
	}
	return rep, nil
}

// peerMultiples fetches quote and financials of every peer and derives their
// multiples. A peer that cannot be fetched is skipped.
func (s *Service) peerMultiples(ctx context.Context, peers []string) ([]valuation.PeerMultiples, error) {
	out := make([]*valuation.PeerMultiples, len(peers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for i, peer := range peers {
		g.Go(func() error {
			q, err := s.Quote(gctx, peer)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Debug("peer skipped", zap.String("peer", peer), zap.Error(err))
				return nil
			}
			f, err := s.Financials(gctx, peer)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			m := valuation.MultiplesOf(valuation.Input{Quote: q, Financials: f})
			if m == (valuation.Multiples{}) {
				return nil
			}
			out[i] = &valuation.PeerMultiples{Symbol: peer, Multiples: m}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res := make([]valuation.PeerMultiples, 0, len(peers))
	for _, m := range out {
		if m != nil {
			res = append(res, *m)
		}
	}
	return res, nil
}

// Comparison is one row of Compare; Err is set when the symbol failed.
type Comparison struct {
	Symbol string            `json:"symbol"`
	Report *valuation.Report `json:"report,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// Compare valuates symbols concurrently, at most limit at a time, and returns
// one row per symbol in input order. Each symbol's other symbols serve as its
// peers. A failing symbol does not fail the comparison.
func (s *Service) Compare(ctx context.Context, symbols []string) ([]Comparison, error) {
	syms, err := normalizeAll(symbols)
	if err != nil {
		return nil, err
	}
	if len(syms) == 0 {
		return nil, market.ErrInvalidSymbol
	}
	if len(syms) > MaxPeers+1 {
		return nil, fmt.Errorf("%w: at most %d symbols", ErrTooManySymbols, MaxPeers+1)
	}

	rows := make([]Comparison, len(syms))
	var g errgroup.Group
	g.SetLimit(s.limit)
	for i, sym := range syms {
		g.Go(func() error {
			rows[i].Symbol = sym
			peers := slices.DeleteFunc(slices.Clone(syms), func(p string) bool { return p == sym })
			rep, err := s.Valuate(ctx, sym, peers)
			if err != nil {
				rows[i].Error = err.Error()
				return nil
			}
			rows[i].Report = &rep
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}
