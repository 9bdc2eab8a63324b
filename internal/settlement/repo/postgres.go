package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Postgres implementa a projeção de pots/tickets/payouts em banco
type Postgres struct{ db *sql.DB }

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

var (
	// ErrAlreadySettled: já existe payout para (pot, round). Não é falha —
	// é o guard de idempotência agindo sob entrega duplicada.
	ErrAlreadySettled = errors.New("round already settled")

	ErrPotNotFound = errors.New("pot not found")
)

// UpsertPotOnCreate insere o pot na primeira vez que o evento PotCreated é
// visto; redelivery do mesmo evento é absorvida pelo ON CONFLICT.
// Retorna true quando a linha foi de fato criada.
func (p *Postgres) UpsertPotOnCreate(ctx context.Context, pot Pot) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO pots (pot, authority, mint, vault, ticket_price, ticket_capacity, tickets_sold, round, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,0,1,NOW())
		ON CONFLICT (pot) DO NOTHING`,
		pot.Pot, pot.Authority, pot.Mint, pot.Vault, pot.TicketPrice, pot.TicketCapacity,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordTicket registra um ticket na rodada corrente do pot e atualiza
// tickets_sold. Idempotente por (pot, round, ticket_index): redelivery do
// mesmo TicketBought não cria segunda linha nem infla o contador.
// Retorna tickets_sold corrente, capacidade e rodada.
func (p *Postgres) RecordTicket(ctx context.Context, potAddr, buyer, txSig string, ticketIndex int64) (sold, capacity, round int64, err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, 0, err
	}
	defer tx.Rollback()

	// FOR UPDATE serializa compras concorrentes do mesmo pot
	err = tx.QueryRowContext(ctx,
		`SELECT round, ticket_capacity FROM pots WHERE pot=$1 FOR UPDATE`, potAddr,
	).Scan(&round, &capacity)
	if err == sql.ErrNoRows {
		return 0, 0, 0, ErrPotNotFound
	} else if err != nil {
		return 0, 0, 0, err
	}

	// Replay da mesma transação (reconexão at-least-once): o ticket já foi
	// registrado — possivelmente numa rodada anterior, se a liquidação já
	// avançou o pot. Nada muda; devolve o estado corrente.
	var dup int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM tickets WHERE pot=$1 AND tx_sig=$2 AND ticket_index=$3`,
		potAddr, txSig, ticketIndex,
	).Scan(&dup)
	if err == nil {
		if err = tx.QueryRowContext(ctx,
			`SELECT tickets_sold FROM pots WHERE pot=$1`, potAddr,
		).Scan(&sold); err != nil {
			return 0, 0, 0, err
		}
		if err = tx.Commit(); err != nil {
			return 0, 0, 0, err
		}
		return sold, capacity, round, nil
	}
	if err != sql.ErrNoRows {
		return 0, 0, 0, err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO tickets (pot, round, ticket_index, buyer, tx_sig, bought_at)
		VALUES ($1,$2,$3,$4,$5,NOW())
		ON CONFLICT (pot, round, ticket_index) DO NOTHING`,
		potAddr, round, ticketIndex, buyer, txSig,
	); err != nil {
		return 0, 0, 0, err
	}

	// tickets_sold nunca regride nem passa da capacidade
	if err = tx.QueryRowContext(ctx, `
		UPDATE pots
		SET tickets_sold = LEAST(GREATEST(tickets_sold, $2), ticket_capacity)
		WHERE pot=$1
		RETURNING tickets_sold`,
		potAddr, ticketIndex,
	).Scan(&sold); err != nil {
		return 0, 0, 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, 0, err
	}
	return sold, capacity, round, nil
}

// IsRoundSettled consulta a existência de payout para (pot, round)
func (p *Postgres) IsRoundSettled(ctx context.Context, potAddr string, round int64) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx,
		`SELECT 1 FROM payouts WHERE pot=$1 AND round=$2`, potAddr, round,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetPot retorna a projeção corrente de um pot
func (p *Postgres) GetPot(ctx context.Context, potAddr string) (*Pot, error) {
	var pot Pot
	err := p.db.QueryRowContext(ctx, `
		SELECT pot, authority, mint, vault, ticket_price, ticket_capacity, tickets_sold, round, created_at
		FROM pots WHERE pot=$1`, potAddr,
	).Scan(&pot.Pot, &pot.Authority, &pot.Mint, &pot.Vault,
		&pot.TicketPrice, &pot.TicketCapacity, &pot.TicketsSold, &pot.Round, &pot.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPotNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pot, nil
}

// BuyersForRound lista os compradores da rodada em ordem de ticket_index
// ascendente — a ordem é parte do contrato de seleção do vencedor.
func (p *Postgres) BuyersForRound(ctx context.Context, potAddr string, round int64) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT buyer FROM tickets
		WHERE pot=$1 AND round=$2
		ORDER BY ticket_index ASC`, potAddr, round)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// RecordPayoutAndAdvanceRound é a operação atômica central: insere o payout
// apenas se (pot, round) ainda não existe e, no mesmo tx, zera tickets_sold e
// avança a rodada. Se o insert não inseriu (corrida ou redelivery), nada é
// alterado e ErrAlreadySettled é retornado.
func (p *Postgres) RecordPayoutAndAdvanceRound(ctx context.Context, payout Payout) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO payouts (pot, round, winner, tx_sig, vrf_request_tx, amount_lamports, paid_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW())
		ON CONFLICT (pot, round) DO NOTHING`,
		payout.Pot, payout.Round, payout.Winner, payout.TxSig, payout.VRFRequestTx, payout.AmountLamports,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadySettled
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE pots SET tickets_sold = 0, round = round + 1
		WHERE pot=$1 AND round=$2`,
		payout.Pot, payout.Round,
	)
	if err != nil {
		return err
	}
	if n, err = res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		// payout inseriu mas o pot não está mais nessa rodada: estado
		// inconsistente que não deve ser commitado
		return fmt.Errorf("pot %s not at round %d", payout.Pot, payout.Round)
	}

	return tx.Commit()
}

// PendingRounds retorna rodadas que atingiram a capacidade sem payout
// registrado — insumo do sweep de reconciliação pós-restart.
func (p *Postgres) PendingRounds(ctx context.Context) ([]PendingRound, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT p.pot, p.round
		FROM pots p
		LEFT JOIN payouts py ON py.pot = p.pot AND py.round = p.round
		WHERE p.tickets_sold >= p.ticket_capacity
		  AND p.ticket_capacity > 0
		  AND py.pot IS NULL
		ORDER BY p.pot`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingRound
	for rows.Next() {
		var pr PendingRound
		if err := rows.Scan(&pr.Pot, &pr.Round); err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}
