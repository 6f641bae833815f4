package ledger

const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	asset TEXT NOT NULL,
	direction TEXT NOT NULL,
	amount REAL NOT NULL,
	duration INTEGER NOT NULL,
	timestamp DATETIME NOT NULL,
	status TEXT NOT NULL,
	result TEXT NOT NULL,
	profit REAL NOT NULL DEFAULT 0,
	balance_after REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp);
CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
`
