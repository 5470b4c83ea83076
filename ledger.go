package main

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Ledger records player balances and a transaction log in sqlite. The
// game engine treats debits and credits as fire-and-forget: failures
// are logged by the caller, never retried.
type Ledger struct {
	db *sql.DB
}

func openLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Ledger{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS players (
			id TEXT PRIMARY KEY,
			balance INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			player_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			type TEXT NOT NULL,
			description TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (player_id) REFERENCES players(id)
		)
	`)

	return err
}

// Balance returns the player's current balance. Unknown players start
// at zero.
func (l *Ledger) Balance(accountID string) (int64, error) {
	var balance int64

	err := l.db.QueryRow("SELECT balance FROM players WHERE id = ?", accountID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}

	return balance, nil
}

// Debit removes amount from the player's balance.
func (l *Ledger) Debit(accountID string, amount int64, description string) error {
	return l.apply(accountID, -amount, "debit", description)
}

// Credit adds amount to the player's balance.
func (l *Ledger) Credit(accountID string, amount int64, description string) error {
	return l.apply(accountID, amount, "credit", description)
}

// apply adjusts the balance and records the transaction atomically.
func (l *Ledger) apply(accountID string, amount int64, txType, description string) error {
	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO players (id, balance)
		VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET balance = balance + ?
	`, accountID, amount, amount)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO transactions (player_id, amount, type, description)
		VALUES (?, ?, ?, ?)
	`, accountID, amount, txType, description)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (l *Ledger) Close() error {
	return l.db.Close()
}
