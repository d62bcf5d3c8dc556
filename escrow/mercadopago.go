package escrow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/mercadopago/sdk-go/pkg/refund"
)

var ErrMissingAccessToken = errors.New("escrow: missing mercado pago access token")

// MercadoPagoGateway holds brand funds as an uncaptured payment, captures it
// on release and cancels or refunds it on refund.
type MercadoPagoGateway struct {
	payments payment.Client
	refunds  refund.Client
	holds    HoldStore
	mockMode bool
	now      func() time.Time

	// PaymentMethodID and PayerEmail are sent with every hold.
	PaymentMethodID string
	PayerEmail      string
}

// NewMercadoPagoGateway builds a gateway. In mock mode no SDK client is
// created and provider ids are synthesized.
func NewMercadoPagoGateway(accessToken string, holds HoldStore, mock bool) (*MercadoPagoGateway, error) {
	if holds == nil {
		holds = NewMemoryHoldStore()
	}
	if mock {
		log.Printf("[escrow][gateway] mock mode enabled")
		return &MercadoPagoGateway{holds: holds, mockMode: true, now: time.Now}, nil
	}
	if strings.TrimSpace(accessToken) == "" {
		return nil, ErrMissingAccessToken
	}
	cfg, err := config.New(accessToken)
	if err != nil {
		return nil, fmt.Errorf("escrow: mercado pago config: %w", err)
	}
	log.Printf("[escrow][gateway] Mercado Pago client initialized")
	return &MercadoPagoGateway{
		payments:        payment.NewClient(cfg),
		refunds:         refund.NewClient(cfg),
		holds:           holds,
		now:             time.Now,
		PaymentMethodID: "account_money",
	}, nil
}

// Execute applies one instruction. Repeating an instruction that already
// took effect is a no-op.
func (g *MercadoPagoGateway) Execute(ctx context.Context, instr Instruction) error {
	switch instr.Kind {
	case KindHold:
		return g.hold(ctx, instr)
	case KindRelease:
		return g.release(ctx, instr)
	case KindRefund:
		return g.refund(ctx, instr)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, instr.Kind)
	}
}

func (g *MercadoPagoGateway) hold(ctx context.Context, instr Instruction) error {
	existing, err := g.holds.GetHold(ctx, instr.CollaborationID)
	resumed := err == nil
	switch {
	case err == nil && existing.State != HoldStatePending:
		log.Printf("[escrow][gateway] hold already present collaboration=%s provider_payment_id=%s state=%s", instr.CollaborationID, existing.ProviderPaymentID, existing.State)
		return nil
	case err == nil:
		log.Printf("[escrow][gateway] resuming pending hold collaboration=%s", instr.CollaborationID)
	case errors.Is(err, ErrNoHold):
		if err := g.holds.PutHold(ctx, Hold{
			CollaborationID: instr.CollaborationID,
			Amount:          instr.Amount,
			State:           HoldStatePending,
			UpdatedAt:       g.now().UTC(),
		}); err != nil {
			return err
		}
	default:
		return err
	}

	providerID, err := g.providerHold(ctx, instr, resumed)
	if err != nil {
		return err
	}

	log.Printf("[escrow][gateway] hold collaboration=%s amount=%s provider_payment_id=%s", instr.CollaborationID, instr.Amount.StringFixed(2), providerID)
	return g.holds.PutHold(ctx, Hold{
		CollaborationID:   instr.CollaborationID,
		ProviderPaymentID: providerID,
		Amount:            instr.Amount,
		State:             HoldStateHeld,
		UpdatedAt:         g.now().UTC(),
	})
}

// providerHold returns the provider payment for instr, creating it unless a
// resumed attempt already reached the provider. Payments are found by their
// external reference, which is the collaboration id.
func (g *MercadoPagoGateway) providerHold(ctx context.Context, instr Instruction, resumed bool) (string, error) {
	if g.mockMode {
		return strconv.FormatInt(g.now().UTC().UnixNano(), 10), nil
	}
	if resumed {
		found, err := g.payments.Search(ctx, payment.SearchRequest{
			Limit:   10,
			Filters: map[string]string{"external_reference": instr.CollaborationID},
		})
		if err != nil {
			log.Printf("[escrow][gateway] sdk search failed collaboration=%s err=%v", instr.CollaborationID, err)
			return "", fmt.Errorf("escrow: hold: search: %w", err)
		}
		for _, p := range found.Results {
			if p.Status != "cancelled" && p.Status != "rejected" {
				return strconv.Itoa(p.ID), nil
			}
		}
	}
	resp, err := g.payments.Create(ctx, payment.Request{
		TransactionAmount: instr.Amount.InexactFloat64(),
		Description:       "collaboration " + instr.CollaborationID,
		ExternalReference: instr.CollaborationID,
		PaymentMethodID:   g.PaymentMethodID,
		Capture:           false,
		Payer:             &payment.PayerRequest{Email: g.PayerEmail},
	})
	if err != nil {
		log.Printf("[escrow][gateway] sdk create failed collaboration=%s err=%v", instr.CollaborationID, err)
		return "", fmt.Errorf("escrow: hold: %w", err)
	}
	return strconv.Itoa(resp.ID), nil
}

func (g *MercadoPagoGateway) release(ctx context.Context, instr Instruction) error {
	h, err := g.holds.GetHold(ctx, instr.CollaborationID)
	if err != nil {
		return err
	}
	if h.State == HoldStateCaptured {
		return nil
	}
	if h.State != HoldStateHeld {
		return fmt.Errorf("escrow: release: hold for %s is %s", instr.CollaborationID, h.State)
	}
	if !g.mockMode {
		id, err := strconv.Atoi(h.ProviderPaymentID)
		if err != nil {
			return fmt.Errorf("escrow: release: provider id %q: %w", h.ProviderPaymentID, err)
		}
		if _, err := g.payments.Capture(ctx, id); err != nil {
			log.Printf("[escrow][gateway] sdk capture failed collaboration=%s err=%v", instr.CollaborationID, err)
			return fmt.Errorf("escrow: release: %w", err)
		}
	}
	log.Printf("[escrow][gateway] release collaboration=%s payout=%s fee=%s", instr.CollaborationID, instr.InfluencerPayout.StringFixed(2), instr.PlatformFee.StringFixed(2))
	h.State = HoldStateCaptured
	h.UpdatedAt = g.now().UTC()
	return g.holds.PutHold(ctx, h)
}

func (g *MercadoPagoGateway) refund(ctx context.Context, instr Instruction) error {
	h, err := g.holds.GetHold(ctx, instr.CollaborationID)
	if err != nil {
		return err
	}
	if h.State == HoldStateRefunded {
		return nil
	}
	if h.State == HoldStatePending {
		return fmt.Errorf("escrow: refund: hold for %s is still pending", instr.CollaborationID)
	}
	if !g.mockMode {
		id, err := strconv.Atoi(h.ProviderPaymentID)
		if err != nil {
			return fmt.Errorf("escrow: refund: provider id %q: %w", h.ProviderPaymentID, err)
		}
		if h.State == HoldStateCaptured {
			_, err = g.refunds.Create(ctx, id)
		} else {
			_, err = g.payments.Cancel(ctx, id)
		}
		if err != nil {
			log.Printf("[escrow][gateway] sdk refund failed collaboration=%s err=%v", instr.CollaborationID, err)
			return fmt.Errorf("escrow: refund: %w", err)
		}
	}
	log.Printf("[escrow][gateway] refund collaboration=%s amount=%s", instr.CollaborationID, instr.Amount.StringFixed(2))
	h.State = HoldStateRefunded
	h.UpdatedAt = g.now().UTC()
	return g.holds.PutHold(ctx, h)
}
