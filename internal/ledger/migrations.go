package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"Argos-Oracle/deploy/migrations"
)

// DefaultMigrationsTable tracks the submissions schema version when
// MySQLConfig.MigrationsTable is empty.
const DefaultMigrationsTable = "ledger_schema_migrations"

var (
	schemaFiles fs.FS = migrations.Files

	tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)
)

// schemaStep is one numbered file of the submissions schema. The checksum
// pins the file content once it has been applied.
type schemaStep struct {
	version    int
	file       string
	checksum   string
	statements []string
}

// schema brings the submissions table up to the embedded version.
type schema struct {
	db    *sql.DB
	table string
	steps []schemaStep
	now   func() time.Time
}

func newSchema(db *sql.DB, table string, fsys fs.FS) (*schema, error) {
	if table == "" {
		table = DefaultMigrationsTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("非法的迁移版本表名: %q", table)
	}
	steps, err := readSchemaSteps(fsys)
	if err != nil {
		return nil, err
	}
	return &schema{db: db, table: table, steps: steps, now: time.Now}, nil
}

// upgrade applies every step above the recorded version. A recorded step
// whose file changed afterwards is refused.
func (s *schema) upgrade(ctx context.Context) error {
	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` ("+
		"version INT NOT NULL PRIMARY KEY, "+
		"file VARCHAR(255) NOT NULL, "+
		"checksum CHAR(64) NOT NULL, "+
		"applied_at BIGINT NOT NULL)", s.table)
	if _, err := s.db.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("创建版本表 %s 失败: %w", s.table, err)
	}

	recorded, err := s.recorded(ctx)
	if err != nil {
		return err
	}
	for _, step := range s.steps {
		if sum, ok := recorded[step.version]; ok {
			if sum != step.checksum {
				return fmt.Errorf("提交表结构 %s 已应用但内容被修改", step.file)
			}
			continue
		}
		if err := s.apply(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (s *schema) recorded(ctx context.Context) (map[int]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT version, checksum FROM `%s`", s.table))
	if err != nil {
		return nil, fmt.Errorf("读取表结构版本失败: %w", err)
	}
	defer rows.Close()

	recorded := make(map[int]string)
	for rows.Next() {
		var (
			version  int
			checksum string
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("解析表结构版本失败: %w", err)
		}
		recorded[version] = checksum
	}
	return recorded, rows.Err()
}

func (s *schema) apply(ctx context.Context, step schemaStep) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("升级提交表结构 %s 失败: %w", step.file, err)
	}
	for _, stmt := range step.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("升级提交表结构 %s 失败: %w", step.file, err)
		}
	}
	insert := fmt.Sprintf("INSERT INTO `%s` (version, file, checksum, applied_at) VALUES (?, ?, ?, ?)", s.table)
	if _, err := tx.ExecContext(ctx, insert, step.version, step.file, step.checksum, s.now().Unix()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("记录表结构版本 %d 失败: %w", step.version, err)
	}
	return tx.Commit()
}

// readSchemaSteps loads NNNN_name.sql files in version order. Files without
// a numeric prefix or with a duplicate version are rejected.
func readSchemaSteps(fsys fs.FS) ([]schemaStep, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("读取表结构文件失败: %w", err)
	}

	seen := make(map[int]string)
	var steps []schemaStep
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, _ := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("表结构文件 %s 缺少版本号前缀", name)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("表结构文件 %s 与 %s 版本号重复", name, other)
		}
		seen[version] = name

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("读取表结构文件 %s 失败: %w", name, err)
		}
		statements := sqlStatements(string(content))
		if len(statements) == 0 {
			continue
		}
		sum := sha256.Sum256(content)
		steps = append(steps, schemaStep{
			version:    version,
			file:       name,
			checksum:   hex.EncodeToString(sum[:]),
			statements: statements,
		})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}

// sqlStatements drops "--" comment lines and splits on semicolons.
func sqlStatements(content string) []string {
	var body strings.Builder
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	var statements []string
	for _, stmt := range strings.Split(body.String(), ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}
