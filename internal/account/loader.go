package account

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"imx-batch/internal/remote"
)

// 账户文件表头；缺失时按历史列顺序兜底。
const (
	colKey          = "wallet_private_key"
	colSecondaryKey = "stark_private_key"
	colContract     = "collection_address"
	colContract2    = "collection_address_2"
	colItem         = "token_id"
	colItem2        = "token_id_2"
	colName         = "wallet_name"
	colTarget       = "target_wallet"
)

// Loader 将账户文件解析为分组，每个文件一组，组标签为文件名。
type Loader struct {
	factory remote.Factory
	logger  *zap.Logger
}

// NewLoader 创建加载器。
func NewLoader(factory remote.Factory, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{factory: factory, logger: logger}
}

// LoadDir 加载目录下全部 csv 文件，按文件名排序。
func (l *Loader) LoadDir(ctx context.Context, dir string) ([]*Group, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("account: 扫描目录 %q 失败: %w", dir, err)
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, fmt.Errorf("account: 目录 %q 下没有账户文件", dir)
	}
	return l.LoadFiles(ctx, matches)
}

// LoadFiles 并行加载多个账户文件，结果保持入参顺序。
func (l *Loader) LoadFiles(ctx context.Context, paths []string) ([]*Group, error) {
	groups := make([]*Group, len(paths))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, path := range paths {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			group, err := l.LoadFile(path)
			if err != nil {
				return err
			}
			groups[i] = group
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return groups, nil
}

// LoadFile 解析单个账户文件。
func (l *Loader) LoadFile(path string) (*Group, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("account: 打开账户文件失败: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("account: 解析账户文件 %q 失败: %w", path, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("account: 账户文件 %q 不含数据行", path)
	}

	cols := resolveColumns(rows[0])
	records := make([]Record, 0, len(rows)-1)

	for i, row := range rows[1:] {
		key := cols.get(row, cols.key)
		if key == "" {
			l.logger.Warn("跳过缺少密钥的行",
				zap.String("file", path),
				zap.Int("row", i+2),
			)
			continue
		}

		rec, err := NewRecord(remote.KeyMaterial{
			Key:          key,
			SecondaryKey: cols.get(row, cols.secondaryKey),
		}, l.factory)
		if err != nil {
			return nil, err
		}

		rec.DisplayName = cols.get(row, cols.name)
		rec.PeerTarget = cols.get(row, cols.target)
		rec.SequenceIndex = i + 1
		if contract, item := cols.get(row, cols.contract), cols.get(row, cols.item); contract != "" && item != "" {
			rec.SellTarget = &SellTarget{ContractRef: contract, ItemRef: item}
		}
		if contract, item := cols.get(row, cols.contract2), cols.get(row, cols.item2); contract != "" && item != "" {
			rec.AltSellTarget = &SellTarget{ContractRef: contract, ItemRef: item}
		}

		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("account: 账户文件 %q 未加载到任何账户", path)
	}

	l.logger.Info("账户文件加载完成",
		zap.String("file", path),
		zap.Int("accounts", len(records)),
	)

	return NewGroup(filepath.Base(path), records), nil
}

type columnSet struct {
	key, secondaryKey, contract, contract2, item, item2, name, target int
}

func (c columnSet) get(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func resolveColumns(header []string) columnSet {
	find := func(label string, fallback int) int {
		for i, cell := range header {
			if strings.EqualFold(strings.TrimSpace(cell), label) {
				return i
			}
		}
		return fallback
	}

	return columnSet{
		key:          find(colKey, 0),
		secondaryKey: find(colSecondaryKey, 1),
		contract:     find(colContract, 2),
		contract2:    find(colContract2, 3),
		item:         find(colItem, 3),
		item2:        find(colItem2, 3),
		name:         find(colName, 4),
		target:       find(colTarget, 5),
	}
}
