package repo

import (
	"context"
	"database/sql"

	"github.com/gfreitas/lottery-pot-platform-poc/internal/query-service/dto"
)

type ReadRepo struct {
	DB *sql.DB
}

// ListPots retorna pots paginados por ordem de criação, com os últimos
// vencedores de cada um. potFilter vazio lista todos.
func (r *ReadRepo) ListPots(ctx context.Context, potFilter string, page, limit int) ([]dto.Pot, error) {
	const q = `
		SELECT pot, authority, mint, vault, ticket_price, ticket_capacity, tickets_sold, round, created_at
		FROM pots
		WHERE ($1 = '' OR pot = $1)
		ORDER BY created_at ASC
		OFFSET $2 LIMIT $3;
	`
	rows, err := r.DB.QueryContext(ctx, q, potFilter, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dto.Pot
	for rows.Next() {
		var p dto.Pot
		if err := rows.Scan(&p.Pot, &p.Authority, &p.Mint, &p.Vault,
			&p.TicketPrice, &p.TicketCapacity, &p.TicketsSold, &p.Round, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		winners, err := r.ListWinners(ctx, out[i].Pot, 1, 10)
		if err != nil {
			return nil, err
		}
		out[i].LastWinners = winners
	}
	return out, nil
}

// GetPot retorna um pot específico (sem vencedores)
func (r *ReadRepo) GetPot(ctx context.Context, potAddr string) (*dto.Pot, error) {
	var p dto.Pot
	err := r.DB.QueryRowContext(ctx, `
		SELECT pot, authority, mint, vault, ticket_price, ticket_capacity, tickets_sold, round, created_at
		FROM pots WHERE pot=$1`, potAddr,
	).Scan(&p.Pot, &p.Authority, &p.Mint, &p.Vault,
		&p.TicketPrice, &p.TicketCapacity, &p.TicketsSold, &p.Round, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListBuyers retorna os compradores de uma rodada do pot, por ordem de
// compra mais recente (round 0 = rodada corrente)
func (r *ReadRepo) ListBuyers(ctx context.Context, potAddr string, round int64, page, limit int) ([]dto.Buyer, error) {
	if round == 0 {
		if err := r.DB.QueryRowContext(ctx,
			`SELECT round FROM pots WHERE pot=$1`, potAddr,
		).Scan(&round); err != nil {
			return nil, err
		}
	}

	const q = `
		SELECT buyer, ticket_index, round, tx_sig, bought_at
		FROM tickets
		WHERE pot=$1 AND round=$2
		ORDER BY bought_at DESC
		OFFSET $3 LIMIT $4;
	`
	rows, err := r.DB.QueryContext(ctx, q, potAddr, round, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dto.Buyer
	for rows.Next() {
		var b dto.Buyer
		if err := rows.Scan(&b.Buyer, &b.TicketIndex, &b.Round, &b.TxSig, &b.BoughtAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListWinners retorna payouts por ordem de liquidação mais recente.
// potFilter vazio lista todos os pots.
func (r *ReadRepo) ListWinners(ctx context.Context, potFilter string, page, limit int) ([]dto.Payout, error) {
	const q = `
		SELECT pot, round, winner, tx_sig, vrf_request_tx, amount_lamports, paid_at
		FROM payouts
		WHERE ($1 = '' OR pot = $1)
		ORDER BY paid_at DESC
		OFFSET $2 LIMIT $3;
	`
	rows, err := r.DB.QueryContext(ctx, q, potFilter, (page-1)*limit, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []dto.Payout
	for rows.Next() {
		var p dto.Payout
		if err := rows.Scan(&p.Pot, &p.Round, &p.Winner, &p.TxSig, &p.VRFRequestTx, &p.AmountLamports, &p.PaidAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
