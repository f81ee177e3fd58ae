package history

import (
	"database/sql"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/xibot/xibot/internal/domain"
)

// Repo 交易历史仓库（SQLite，append-only）
type Repo struct {
	db *sql.DB
}

// Open 打开（或创建）历史库
func Open(path string) (*Repo, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开历史库失败: %w", err)
	}
	// modernc sqlite 单写者
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS trades (
	id         TEXT PRIMARY KEY,
	bot_id     TEXT NOT NULL,
	direction  TEXT NOT NULL,
	kind       TEXT NOT NULL,
	amount_in  TEXT NOT NULL,
	amount_out TEXT NOT NULL,
	min_out    TEXT NOT NULL,
	tx_hash    TEXT NOT NULL DEFAULT '',
	success    INTEGER NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_created_at ON trades(created_at);
`)
	if err != nil {
		return fmt.Errorf("初始化历史库 schema 失败: %w", err)
	}
	return nil
}

// Close 关闭历史库
func (r *Repo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Append 追加一条交易记录。rec.ID 为空时自动生成。
func (r *Repo) Append(rec domain.TradeRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	_, err := r.db.Exec(`
INSERT INTO trades (id, bot_id, direction, kind, amount_in, amount_out, min_out, tx_hash, success, error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.BotID, string(rec.Direction), string(rec.Kind),
		bigStr(rec.AmountIn), bigStr(rec.AmountOut), bigStr(rec.MinOut),
		rec.TxHash, boolInt(rec.Success), rec.Error, rec.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("写入交易记录失败: %w", err)
	}
	return nil
}

// Recent 按时间倒序取最近 limit 条
func (r *Repo) Recent(limit int) ([]domain.TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`
SELECT id, bot_id, direction, kind, amount_in, amount_out, min_out, tx_hash, success, error, created_at
FROM trades ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询交易记录失败: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		var rec domain.TradeRecord
		var direction, kind, amountIn, amountOut, minOut string
		var success int
		if err := rows.Scan(&rec.ID, &rec.BotID, &direction, &kind,
			&amountIn, &amountOut, &minOut, &rec.TxHash, &success, &rec.Error, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.Direction = domain.SwapDirection(direction)
		rec.Kind = domain.ActionKind(kind)
		rec.AmountIn = parseBig(amountIn)
		rec.AmountOut = parseBig(amountOut)
		rec.MinOut = parseBig(minOut)
		rec.Success = success != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountSince 统计某时刻以来的成交笔数
func (r *Repo) CountSince(since time.Time) (total, failed int64, err error) {
	row := r.db.QueryRow(`
SELECT COUNT(*), COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0)
FROM trades WHERE created_at >= ?`, since.UTC())
	if err := row.Scan(&total, &failed); err != nil {
		return 0, 0, fmt.Errorf("统计交易记录失败: %w", err)
	}
	return total, failed, nil
}

func bigStr(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}

func parseBig(s string) *big.Int {
	x, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return x
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
