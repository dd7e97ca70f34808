package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"stockbot/internal/domain"
	"stockbot/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.WatchlistRepo      = (*Postgres)(nil)
	_ domain.PortfolioRepo      = (*Postgres)(nil)
	_ domain.PrivateChannelRepo = (*Postgres)(nil)
	_ domain.HeartbeatRepo      = (*Postgres)(nil)
	_ domain.HelpMessageRepo    = (*Postgres)(nil)
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS private_channels (
	guild_id   TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	channel_id TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (guild_id, user_id, kind)
);

CREATE TABLE IF NOT EXISTS watchlist_items (
	id           BIGSERIAL PRIMARY KEY,
	guild_id     TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	symbol       TEXT NOT NULL,
	company_name TEXT,
	added_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (guild_id, user_id, symbol)
);

CREATE TABLE IF NOT EXISTS portfolio_positions (
	guild_id      TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	shares        NUMERIC NOT NULL,
	total_cost    NUMERIC NOT NULL,
	average_price NUMERIC NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (guild_id, user_id, symbol)
);

CREATE TABLE IF NOT EXISTS user_stats (
	guild_id     TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	realized_pnl NUMERIC NOT NULL DEFAULT 0,
	PRIMARY KEY (guild_id, user_id)
);

ALTER TABLE portfolio_positions
	ALTER COLUMN shares TYPE NUMERIC,
	ALTER COLUMN total_cost TYPE NUMERIC,
	ALTER COLUMN average_price TYPE NUMERIC;
ALTER TABLE user_stats ALTER COLUMN realized_pnl TYPE NUMERIC;

CREATE TABLE IF NOT EXISTS news_heartbeats (
	channel_id TEXT PRIMARY KEY,
	sent_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS help_messages (
	guild_id   TEXT PRIMARY KEY,
	message_id TEXT NOT NULL
);
`

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema создаёт таблицы, если их ещё нет.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, schema)
	metrics.ObserveNetworkRequest("postgres", "ensure_schema", "schema", start, err)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Ping проверяет соединение для /healthz.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// AddWatchlistEntry реализует domain.WatchlistRepo.
func (p *Postgres) AddWatchlistEntry(ctx context.Context, entry domain.WatchlistEntry) (domain.WatchlistEntry, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var company sql.NullString
	if entry.CompanyName != "" {
		company = sql.NullString{String: entry.CompanyName, Valid: true}
	}

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO watchlist_items (guild_id, user_id, symbol, company_name)
VALUES ($1, $2, $3, $4)
RETURNING id, added_at
`, entry.Owner.GuildID, entry.Owner.UserID, entry.Symbol, company).Scan(&entry.ID, &entry.AddedAt)
	metrics.ObserveNetworkRequest("postgres", "watchlist_insert", "watchlist_items", start, err)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WatchlistEntry{}, fmt.Errorf("watchlist %s: %w", entry.Symbol, domain.ErrAlreadyExists)
		}
		return domain.WatchlistEntry{}, err
	}
	return entry, nil
}

// RemoveWatchlistEntry реализует domain.WatchlistRepo.
func (p *Postgres) RemoveWatchlistEntry(ctx context.Context, owner domain.Owner, symbol string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM watchlist_items WHERE guild_id=$1 AND user_id=$2 AND symbol=$3`, owner.GuildID, owner.UserID, symbol)
	metrics.ObserveNetworkRequest("postgres", "watchlist_delete", "watchlist_items", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("watchlist %s: %w", symbol, domain.ErrNotFound)
	}
	return nil
}

// ListWatchlist реализует domain.WatchlistRepo.
func (p *Postgres) ListWatchlist(ctx context.Context, owner domain.Owner) ([]domain.WatchlistEntry, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, symbol, company_name, added_at
FROM watchlist_items
WHERE guild_id=$1 AND user_id=$2
ORDER BY id
`, owner.GuildID, owner.UserID)
	metrics.ObserveNetworkRequest("postgres", "watchlist_list", "watchlist_items", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.WatchlistEntry
	for rows.Next() {
		var (
			e       domain.WatchlistEntry
			company sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Symbol, &company, &e.AddedAt); err != nil {
			return nil, err
		}
		e.Owner = owner
		e.CompanyName = company.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteWatchlist реализует domain.WatchlistRepo.
func (p *Postgres) DeleteWatchlist(ctx context.Context, owner domain.Owner) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM watchlist_items WHERE guild_id=$1 AND user_id=$2`, owner.GuildID, owner.UserID)
	metrics.ObserveNetworkRequest("postgres", "watchlist_delete_all", "watchlist_items", start, err)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) lockPosition(ctx context.Context, tx pgx.Tx, owner domain.Owner, symbol string) (domain.Position, bool, error) {
	pos := domain.Position{Owner: owner, Symbol: symbol}
	var sharesNum, costNum, avgNum pgtype.Numeric
	start := time.Now()
	err := tx.QueryRow(ctx, `
SELECT shares, total_cost, average_price, created_at, updated_at
FROM portfolio_positions
WHERE guild_id=$1 AND user_id=$2 AND symbol=$3
FOR UPDATE
`, owner.GuildID, owner.UserID, symbol).Scan(&sharesNum, &costNum, &avgNum, &pos.CreatedAt, &pos.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "positions_lock", "portfolio_positions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return pos, false, nil
	}
	if err != nil {
		return pos, false, err
	}
	pos.Shares, pos.TotalCost, pos.AveragePrice = fromNumeric(sharesNum), fromNumeric(costNum), fromNumeric(avgNum)
	return pos, true, nil
}

// BuyPosition реализует domain.PortfolioRepo.
func (p *Postgres) BuyPosition(ctx context.Context, owner domain.Owner, symbol string, shares, price decimal.Decimal) (domain.Position, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "portfolio_positions", start, err)
	if err != nil {
		return domain.Position{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	pos, _, err := p.lockPosition(ctx, tx, owner, symbol)
	if err != nil {
		return domain.Position{}, err
	}
	pos, err = domain.ApplyBuy(pos, shares, price, time.Now().UTC())
	if err != nil {
		return domain.Position{}, err
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
INSERT INTO portfolio_positions (guild_id, user_id, symbol, shares, total_cost, average_price, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (guild_id, user_id, symbol) DO UPDATE
SET shares=EXCLUDED.shares, total_cost=EXCLUDED.total_cost, average_price=EXCLUDED.average_price, updated_at=EXCLUDED.updated_at
`, owner.GuildID, owner.UserID, symbol, numeric(pos.Shares), numeric(pos.TotalCost), numeric(pos.AveragePrice), pos.CreatedAt, pos.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "positions_upsert", "portfolio_positions", start, err)
	if err != nil {
		return domain.Position{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "portfolio_positions", start, err)
	if err != nil {
		return domain.Position{}, err
	}
	return pos, nil
}

// SellPosition реализует domain.PortfolioRepo.
func (p *Postgres) SellPosition(ctx context.Context, owner domain.Owner, symbol string, shares, price decimal.Decimal) (domain.SaleResult, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "portfolio_positions", start, err)
	if err != nil {
		return domain.SaleResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	pos, found, err := p.lockPosition(ctx, tx, owner, symbol)
	if err != nil {
		return domain.SaleResult{}, err
	}
	if !found {
		return domain.SaleResult{}, fmt.Errorf("position %s: %w", symbol, domain.ErrNotFound)
	}
	pos, result, err := domain.ApplySale(pos, shares, price, time.Now().UTC())
	if err != nil {
		return domain.SaleResult{}, err
	}

	start = time.Now()
	if pos.Shares.IsZero() {
		_, err = tx.Exec(ctx, `DELETE FROM portfolio_positions WHERE guild_id=$1 AND user_id=$2 AND symbol=$3`, owner.GuildID, owner.UserID, symbol)
	} else {
		_, err = tx.Exec(ctx, `
UPDATE portfolio_positions SET shares=$4, total_cost=$5, updated_at=$6
WHERE guild_id=$1 AND user_id=$2 AND symbol=$3
`, owner.GuildID, owner.UserID, symbol, numeric(pos.Shares), numeric(pos.TotalCost), pos.UpdatedAt)
	}
	metrics.ObserveNetworkRequest("postgres", "positions_sell", "portfolio_positions", start, err)
	if err != nil {
		return domain.SaleResult{}, err
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `
INSERT INTO user_stats (guild_id, user_id, realized_pnl)
VALUES ($1, $2, $3)
ON CONFLICT (guild_id, user_id) DO UPDATE SET realized_pnl = user_stats.realized_pnl + EXCLUDED.realized_pnl
`, owner.GuildID, owner.UserID, numeric(result.RealizedPnL))
	metrics.ObserveNetworkRequest("postgres", "user_stats_add_pnl", "user_stats", start, err)
	if err != nil {
		return domain.SaleResult{}, err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "portfolio_positions", start, err)
	if err != nil {
		return domain.SaleResult{}, err
	}
	return result, nil
}

// ListPositions реализует domain.PortfolioRepo.
func (p *Postgres) ListPositions(ctx context.Context, owner domain.Owner) ([]domain.Position, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT symbol, shares, total_cost, average_price, created_at, updated_at
FROM portfolio_positions
WHERE guild_id=$1 AND user_id=$2
ORDER BY created_at, symbol
`, owner.GuildID, owner.UserID)
	metrics.ObserveNetworkRequest("postgres", "positions_list", "portfolio_positions", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		pos := domain.Position{Owner: owner}
		var sharesNum, costNum, avgNum pgtype.Numeric
		if err := rows.Scan(&pos.Symbol, &sharesNum, &costNum, &avgNum, &pos.CreatedAt, &pos.UpdatedAt); err != nil {
			return nil, err
		}
		pos.Shares, pos.TotalCost, pos.AveragePrice = fromNumeric(sharesNum), fromNumeric(costNum), fromNumeric(avgNum)
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// DeletePositions реализует domain.PortfolioRepo.
func (p *Postgres) DeletePositions(ctx context.Context, owner domain.Owner) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM portfolio_positions WHERE guild_id=$1 AND user_id=$2`, owner.GuildID, owner.UserID)
	metrics.ObserveNetworkRequest("postgres", "positions_delete_all", "portfolio_positions", start, err)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// RealizedPnL реализует domain.PortfolioRepo.
func (p *Postgres) RealizedPnL(ctx context.Context, owner domain.Owner) (decimal.Decimal, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var pnl pgtype.Numeric
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT realized_pnl FROM user_stats WHERE guild_id=$1 AND user_id=$2`, owner.GuildID, owner.UserID).Scan(&pnl)
	metrics.ObserveNetworkRequest("postgres", "user_stats_get", "user_stats", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return fromNumeric(pnl), nil
}

// numeric переводит decimal в NUMERIC без потери точности.
func numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil || n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

// ResetRealizedPnL реализует domain.PortfolioRepo.
func (p *Postgres) ResetRealizedPnL(ctx context.Context, owner domain.Owner) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE user_stats SET realized_pnl=0 WHERE guild_id=$1 AND user_id=$2`, owner.GuildID, owner.UserID)
	metrics.ObserveNetworkRequest("postgres", "user_stats_reset", "user_stats", start, err)
	return err
}

// CreatePrivateChannel реализует domain.PrivateChannelRepo.
func (p *Postgres) CreatePrivateChannel(ctx context.Context, ch domain.PrivateChannel) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO private_channels (guild_id, user_id, kind, channel_id, created_at)
VALUES ($1, $2, $3, $4, $5)
`, ch.Owner.GuildID, ch.Owner.UserID, string(ch.Kind), ch.ChannelID, ch.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "private_channels_insert", "private_channels", start, err)
	if isUniqueViolation(err) {
		return fmt.Errorf("%s channel: %w", ch.Kind, domain.ErrAlreadyExists)
	}
	return err
}

// GetPrivateChannel реализует domain.PrivateChannelRepo.
func (p *Postgres) GetPrivateChannel(ctx context.Context, owner domain.Owner, kind domain.ChannelKind) (domain.PrivateChannel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	ch := domain.PrivateChannel{Owner: owner, Kind: kind}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT channel_id, created_at FROM private_channels
WHERE guild_id=$1 AND user_id=$2 AND kind=$3
`, owner.GuildID, owner.UserID, string(kind)).Scan(&ch.ChannelID, &ch.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "private_channels_get", "private_channels", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PrivateChannel{}, fmt.Errorf("%s channel: %w", kind, domain.ErrNotFound)
	}
	return ch, err
}

// GetPrivateChannelByID реализует domain.PrivateChannelRepo.
func (p *Postgres) GetPrivateChannelByID(ctx context.Context, channelID string) (domain.PrivateChannel, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	ch := domain.PrivateChannel{ChannelID: channelID}
	var kind string
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT guild_id, user_id, kind, created_at FROM private_channels WHERE channel_id=$1
`, channelID).Scan(&ch.Owner.GuildID, &ch.Owner.UserID, &kind, &ch.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "private_channels_get_by_id", "private_channels", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PrivateChannel{}, fmt.Errorf("channel %s: %w", channelID, domain.ErrNotFound)
	}
	ch.Kind = domain.ChannelKind(kind)
	return ch, err
}

// DeletePrivateChannel реализует domain.PrivateChannelRepo.
func (p *Postgres) DeletePrivateChannel(ctx context.Context, owner domain.Owner, kind domain.ChannelKind) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM private_channels WHERE guild_id=$1 AND user_id=$2 AND kind=$3`, owner.GuildID, owner.UserID, string(kind))
	metrics.ObserveNetworkRequest("postgres", "private_channels_delete", "private_channels", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s channel: %w", kind, domain.ErrNotFound)
	}
	return nil
}

// LastHeartbeat реализует domain.HeartbeatRepo.
func (p *Postgres) LastHeartbeat(ctx context.Context, channelID string) (time.Time, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var at time.Time
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT sent_at FROM news_heartbeats WHERE channel_id=$1`, channelID).Scan(&at)
	metrics.ObserveNetworkRequest("postgres", "heartbeats_get", "news_heartbeats", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

// SaveHeartbeat реализует domain.HeartbeatRepo.
func (p *Postgres) SaveHeartbeat(ctx context.Context, channelID string, at time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO news_heartbeats (channel_id, sent_at) VALUES ($1, $2)
ON CONFLICT (channel_id) DO UPDATE SET sent_at=EXCLUDED.sent_at
`, channelID, at)
	metrics.ObserveNetworkRequest("postgres", "heartbeats_upsert", "news_heartbeats", start, err)
	return err
}

// HelpMessageID реализует domain.HelpMessageRepo.
func (p *Postgres) HelpMessageID(ctx context.Context, guildID string) (string, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var id string
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT message_id FROM help_messages WHERE guild_id=$1`, guildID).Scan(&id)
	metrics.ObserveNetworkRequest("postgres", "help_messages_get", "help_messages", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// SaveHelpMessageID реализует domain.HelpMessageRepo.
func (p *Postgres) SaveHelpMessageID(ctx context.Context, guildID, messageID string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO help_messages (guild_id, message_id) VALUES ($1, $2)
ON CONFLICT (guild_id) DO UPDATE SET message_id=EXCLUDED.message_id
`, guildID, messageID)
	metrics.ObserveNetworkRequest("postgres", "help_messages_upsert", "help_messages", start, err)
	return err
}
