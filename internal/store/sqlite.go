package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// SQLiteDB implements the DB interface using SQLite
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB creates a new SQLite database connection
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, persistErr("open database", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, persistErr("enable WAL mode", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, persistErr("enable foreign keys", err)
	}

	return &SQLiteDB{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// persistErr tags a storage failure with ErrPersistence so callers can
// classify it as a resource fault.
func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}

// Migrate runs database migrations
func (s *SQLiteDB) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS seed_pairs (
			user_id TEXT PRIMARY KEY,
			server_seed TEXT NOT NULL,
			server_seed_hash TEXT NOT NULL,
			client_seed TEXT NOT NULL,
			nonce INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS revealed_seeds (
			server_seed_hash TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			server_seed TEXT NOT NULL,
			final_nonce INTEGER NOT NULL DEFAULT 0,
			revealed_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			box_id TEXT NOT NULL,
			server_seed_hash TEXT NOT NULL,
			client_seed TEXT NOT NULL,
			nonce INTEGER NOT NULL,
			digest TEXT NOT NULL,
			random_value REAL NOT NULL,
			item_id TEXT NOT NULL,
			item_value TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_outcomes_user_seed_nonce
			ON outcomes(user_id, server_seed_hash, nonce)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_user ON outcomes(user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			ref TEXT NOT NULL,
			amount TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_user ON ledger_entries(user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS battles (
			id TEXT PRIMARY KEY,
			box_id TEXT NOT NULL,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			rounds INTEGER NOT NULL,
			slot_count INTEGER NOT NULL,
			price TEXT NOT NULL,
			server_seed_hash TEXT NOT NULL,
			client_seed TEXT NOT NULL DEFAULT '',
			winner_id TEXT NOT NULL DEFAULT '',
			claim TEXT NOT NULL DEFAULT '',
			claim_item_id TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			finished_at DATETIME
		)`,
		`CREATE TABLE IF NOT EXISTS battle_players (
			battle_id TEXT NOT NULL,
			player_id TEXT NOT NULL,
			slot_index INTEGER NOT NULL,
			total TEXT NOT NULL DEFAULT '0',
			forfeited INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (battle_id, slot_index),
			FOREIGN KEY (battle_id) REFERENCES battles(id)
		)`,
		`CREATE TABLE IF NOT EXISTS battle_rounds (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			battle_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			tie_attempt INTEGER NOT NULL DEFAULT 0,
			player_id TEXT NOT NULL,
			slot_index INTEGER NOT NULL,
			nonce INTEGER NOT NULL,
			digest TEXT NOT NULL,
			random_value REAL NOT NULL,
			item_id TEXT NOT NULL,
			item_value TEXT NOT NULL,
			FOREIGN KEY (battle_id) REFERENCES battles(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_battle_rounds ON battle_rounds(battle_id, round)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return persistErr("run migration", err)
		}
	}
	return nil
}

// GetSeedPair retrieves a user's active seed pair
func (s *SQLiteDB) GetSeedPair(userID string) (*SeedPair, error) {
	query := `SELECT user_id, server_seed, server_seed_hash, client_seed, nonce, created_at
		FROM seed_pairs WHERE user_id = ?`

	var pair SeedPair
	var nonce int64
	err := s.db.QueryRow(query, userID).Scan(
		&pair.UserID, &pair.ServerSeed, &pair.ServerSeedHash,
		&pair.ClientSeed, &nonce, &pair.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSeedPairNotFound
	}
	if err != nil {
		return nil, persistErr("query seed pair", err)
	}
	pair.Nonce = uint64(nonce)
	return &pair, nil
}

// PutSeedPair inserts a new seed pair for a user
func (s *SQLiteDB) PutSeedPair(pair *SeedPair) error {
	query := `INSERT INTO seed_pairs (user_id, server_seed, server_seed_hash, client_seed, nonce)
		VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		pair.UserID, pair.ServerSeed, pair.ServerSeedHash, pair.ClientSeed, int64(pair.Nonce))
	if err != nil {
		return persistErr("insert seed pair", err)
	}
	return nil
}

// UpdateClientSeed replaces the user's client seed without touching the nonce
func (s *SQLiteDB) UpdateClientSeed(userID, clientSeed string) error {
	res, err := s.db.Exec(`UPDATE seed_pairs SET client_seed = ? WHERE user_id = ?`, clientSeed, userID)
	if err != nil {
		return persistErr("update client seed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("read rows affected", err)
	}
	if n == 0 {
		return ErrSeedPairNotFound
	}
	return nil
}

// RotateSeedPair swaps in a new server seed, archives the outgoing seed for
// verification, and resets the nonce to zero, all in one transaction.
func (s *SQLiteDB) RotateSeedPair(userID, newSeed, newHash string) (*RevealedSeed, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, persistErr("begin transaction", err)
	}
	defer tx.Rollback()

	var oldSeed, oldHash string
	var finalNonce uint64
	err = tx.QueryRow(`SELECT server_seed, server_seed_hash, nonce FROM seed_pairs WHERE user_id = ?`, userID).
		Scan(&oldSeed, &oldHash, &finalNonce)
	if err == sql.ErrNoRows {
		return nil, ErrSeedPairNotFound
	}
	if err != nil {
		return nil, persistErr("query seed pair", err)
	}

	revealed := &RevealedSeed{
		UserID:         userID,
		ServerSeed:     oldSeed,
		ServerSeedHash: oldHash,
		FinalNonce:     finalNonce,
		RevealedAt:     time.Now().UTC(),
	}

	_, err = tx.Exec(`INSERT INTO revealed_seeds (server_seed_hash, user_id, server_seed, final_nonce, revealed_at)
		VALUES (?, ?, ?, ?, ?)`, oldHash, userID, oldSeed, int64(finalNonce), revealed.RevealedAt)
	if err != nil {
		return nil, persistErr("archive revealed seed", err)
	}

	_, err = tx.Exec(`UPDATE seed_pairs SET server_seed = ?, server_seed_hash = ?, nonce = 0 WHERE user_id = ?`,
		newSeed, newHash, userID)
	if err != nil {
		return nil, persistErr("rotate seed pair", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, persistErr("commit transaction", err)
	}
	return revealed, nil
}

// GetRevealedSeed looks up an archived server seed by its published hash
func (s *SQLiteDB) GetRevealedSeed(serverSeedHash string) (*RevealedSeed, error) {
	query := `SELECT server_seed_hash, user_id, server_seed, final_nonce, revealed_at
		FROM revealed_seeds WHERE server_seed_hash = ?`

	var r RevealedSeed
	var finalNonce int64
	err := s.db.QueryRow(query, serverSeedHash).Scan(
		&r.ServerSeedHash, &r.UserID, &r.ServerSeed, &finalNonce, &r.RevealedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSeedPairNotFound
	}
	if err != nil {
		return nil, persistErr("query revealed seed", err)
	}
	r.FinalNonce = uint64(finalNonce)
	return &r, nil
}

// RecordOutcome atomically validates and advances the nonce, appends the
// debit ledger entry, and inserts the audit record. The three effects
// commit or roll back as a unit.
func (s *SQLiteDB) RecordOutcome(rec *OutcomeRecord, debit *LedgerEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return persistErr("begin transaction", err)
	}
	defer tx.Rollback()

	var storedNonce int64
	var storedHash string
	err = tx.QueryRow(`SELECT nonce, server_seed_hash FROM seed_pairs WHERE user_id = ?`, rec.UserID).
		Scan(&storedNonce, &storedHash)
	if err == sql.ErrNoRows {
		return ErrSeedPairNotFound
	}
	if err != nil {
		return persistErr("query seed pair", err)
	}

	if storedHash != rec.ServerSeedHash {
		return ErrSeedHashMismatch
	}
	// Exact match only: replayed nonces and skipped-ahead nonces are both
	// rejected.
	if uint64(storedNonce) != rec.Nonce {
		return ErrNonceMismatch
	}

	if _, err := tx.Exec(`UPDATE seed_pairs SET nonce = nonce + 1 WHERE user_id = ?`, rec.UserID); err != nil {
		return persistErr("advance nonce", err)
	}

	if debit != nil {
		if debit.ID == "" {
			debit.ID = uuid.New().String()
		}
		_, err = tx.Exec(`INSERT INTO ledger_entries (id, user_id, kind, ref, amount) VALUES (?, ?, ?, ?, ?)`,
			debit.ID, debit.UserID, debit.Kind, debit.Ref, debit.Amount.String())
		if err != nil {
			return persistErr("append ledger entry", err)
		}
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err = tx.Exec(`INSERT INTO outcomes
		(id, user_id, box_id, server_seed_hash, client_seed, nonce, digest, random_value, item_id, item_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.BoxID, rec.ServerSeedHash, rec.ClientSeed,
		int64(rec.Nonce), rec.Digest, rec.RandomValue, rec.ItemID, rec.ItemValue.String())
	if err != nil {
		return persistErr("insert outcome", err)
	}

	if err := tx.Commit(); err != nil {
		return persistErr("commit transaction", err)
	}
	return nil
}

// ListOutcomes retrieves a user's audit records, newest first
func (s *SQLiteDB) ListOutcomes(userID string, limit, offset int) ([]OutcomeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, user_id, box_id, server_seed_hash, client_seed, nonce, digest,
		random_value, item_id, item_value, created_at
		FROM outcomes WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.Query(query, userID, limit, offset)
	if err != nil {
		return nil, persistErr("query outcomes", err)
	}
	defer rows.Close()

	var records []OutcomeRecord
	for rows.Next() {
		var rec OutcomeRecord
		var nonce int64
		var itemValue string

		err := rows.Scan(&rec.ID, &rec.UserID, &rec.BoxID, &rec.ServerSeedHash, &rec.ClientSeed,
			&nonce, &rec.Digest, &rec.RandomValue, &rec.ItemID, &itemValue, &rec.CreatedAt)
		if err != nil {
			return nil, persistErr("scan outcome", err)
		}
		rec.Nonce = uint64(nonce)
		rec.ItemValue, err = decimal.NewFromString(itemValue)
		if err != nil {
			return nil, fmt.Errorf("corrupt item value %q: %w", itemValue, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AppendLedger inserts ledger entries in a single transaction
func (s *SQLiteDB) AppendLedger(entries ...LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return persistErr("begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO ledger_entries (id, user_id, kind, ref, amount) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return persistErr("prepare ledger insert", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if _, err := stmt.Exec(e.ID, e.UserID, e.Kind, e.Ref, e.Amount.String()); err != nil {
			return persistErr("append ledger entry", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return persistErr("commit transaction", err)
	}
	return nil
}

// ListLedger retrieves a user's ledger entries, newest first
func (s *SQLiteDB) ListLedger(userID string, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, user_id, kind, ref, amount, created_at FROM ledger_entries
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.Query(query, userID, limit)
	if err != nil {
		return nil, persistErr("query ledger entries", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var amount string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.Ref, &amount, &e.CreatedAt); err != nil {
			return nil, persistErr("scan ledger entry", err)
		}
		e.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("corrupt ledger amount %q: %w", amount, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveBattle inserts a battle header
func (s *SQLiteDB) SaveBattle(b *BattleRecord) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	query := `INSERT INTO battles (id, box_id, mode, status, rounds, slot_count, price,
		server_seed_hash, client_seed, winner_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query, b.ID, b.BoxID, b.Mode, b.Status, b.Rounds, b.SlotCount,
		b.Price.String(), b.ServerSeedHash, b.ClientSeed, b.WinnerID)
	if err != nil {
		return persistErr("insert battle", err)
	}
	return nil
}

// UpdateBattle updates a battle's mutable fields
func (s *SQLiteDB) UpdateBattle(b *BattleRecord) error {
	query := `UPDATE battles SET status = ?, rounds = ?, client_seed = ?, winner_id = ?,
		claim = ?, claim_item_id = ?, finished_at = ?
		WHERE id = ?`

	res, err := s.db.Exec(query, b.Status, b.Rounds, b.ClientSeed, b.WinnerID,
		b.Claim, b.ClaimItemID, b.FinishedAt, b.ID)
	if err != nil {
		return persistErr("update battle", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("read rows affected", err)
	}
	if n == 0 {
		return ErrBattleNotFound
	}
	return nil
}

// SaveBattlePlayer inserts an occupied slot
func (s *SQLiteDB) SaveBattlePlayer(p *BattlePlayerRecord) error {
	query := `INSERT INTO battle_players (battle_id, player_id, slot_index, total, forfeited)
		VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query, p.BattleID, p.PlayerID, p.SlotIndex, p.Total.String(), boolToInt(p.Forfeited))
	if err != nil {
		return persistErr("insert battle player", err)
	}
	return nil
}

// UpdateBattlePlayer updates a slot's running total and forfeit flag
func (s *SQLiteDB) UpdateBattlePlayer(p *BattlePlayerRecord) error {
	query := `UPDATE battle_players SET total = ?, forfeited = ? WHERE battle_id = ? AND slot_index = ?`

	_, err := s.db.Exec(query, p.Total.String(), boolToInt(p.Forfeited), p.BattleID, p.SlotIndex)
	if err != nil {
		return persistErr("update battle player", err)
	}
	return nil
}

// GetBattle retrieves a battle header and its occupied slots
func (s *SQLiteDB) GetBattle(id string) (*BattleRecord, []BattlePlayerRecord, error) {
	query := `SELECT id, box_id, mode, status, rounds, slot_count, price,
		server_seed_hash, client_seed, winner_id, claim, claim_item_id, created_at, finished_at
		FROM battles WHERE id = ?`

	var b BattleRecord
	var price string
	var finishedAt sql.NullTime
	err := s.db.QueryRow(query, id).Scan(&b.ID, &b.BoxID, &b.Mode, &b.Status, &b.Rounds,
		&b.SlotCount, &price, &b.ServerSeedHash, &b.ClientSeed, &b.WinnerID,
		&b.Claim, &b.ClaimItemID, &b.CreatedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, nil, ErrBattleNotFound
	}
	if err != nil {
		return nil, nil, persistErr("query battle", err)
	}
	b.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, nil, fmt.Errorf("corrupt battle price %q: %w", price, err)
	}
	if finishedAt.Valid {
		b.FinishedAt = &finishedAt.Time
	}

	rows, err := s.db.Query(`SELECT battle_id, player_id, slot_index, total, forfeited
		FROM battle_players WHERE battle_id = ? ORDER BY slot_index`, id)
	if err != nil {
		return nil, nil, persistErr("query battle players", err)
	}
	defer rows.Close()

	var players []BattlePlayerRecord
	for rows.Next() {
		var p BattlePlayerRecord
		var total string
		var forfeited int
		if err := rows.Scan(&p.BattleID, &p.PlayerID, &p.SlotIndex, &total, &forfeited); err != nil {
			return nil, nil, persistErr("scan battle player", err)
		}
		p.Total, err = decimal.NewFromString(total)
		if err != nil {
			return nil, nil, fmt.Errorf("corrupt player total %q: %w", total, err)
		}
		p.Forfeited = forfeited == 1
		players = append(players, p)
	}
	return &b, players, rows.Err()
}

// SaveRoundRows inserts one resolved round's outcomes in a transaction.
// All-or-nothing: a round never persists partially.
func (s *SQLiteDB) SaveRoundRows(rows []RoundRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return persistErr("begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO battle_rounds
		(battle_id, round, tie_attempt, player_id, slot_index, nonce, digest, random_value, item_id, item_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return persistErr("prepare round insert", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.Exec(r.BattleID, r.Round, r.TieAttempt, r.PlayerID, r.SlotIndex,
			int64(r.Nonce), r.Digest, r.RandomValue, r.ItemID, r.ItemValue.String())
		if err != nil {
			return persistErr("insert round row", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return persistErr("commit transaction", err)
	}
	return nil
}

// ListRoundRows retrieves all resolved round outcomes for a battle
func (s *SQLiteDB) ListRoundRows(battleID string) ([]RoundRow, error) {
	query := `SELECT id, battle_id, round, tie_attempt, player_id, slot_index, nonce,
		digest, random_value, item_id, item_value
		FROM battle_rounds WHERE battle_id = ? ORDER BY round, slot_index`

	rows, err := s.db.Query(query, battleID)
	if err != nil {
		return nil, persistErr("query round rows", err)
	}
	defer rows.Close()

	var out []RoundRow
	for rows.Next() {
		var r RoundRow
		var nonce int64
		var itemValue string
		err := rows.Scan(&r.ID, &r.BattleID, &r.Round, &r.TieAttempt, &r.PlayerID, &r.SlotIndex,
			&nonce, &r.Digest, &r.RandomValue, &r.ItemID, &itemValue)
		if err != nil {
			return nil, persistErr("scan round row", err)
		}
		r.Nonce = uint64(nonce)
		r.ItemValue, err = decimal.NewFromString(itemValue)
		if err != nil {
			return nil, fmt.Errorf("corrupt item value %q: %w", itemValue, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
