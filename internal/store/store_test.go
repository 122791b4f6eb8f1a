package store

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"footprint-flow/internal/model"
	"footprint-flow/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var day = time.Date(2024, 5, 1, 9, 31, 12, 0, time.Local)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), "XAUUSD", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func buy(bin, amount int64) model.Contribution {
	return model.Contribution{Bin: bin, Side: model.SideBuy, Amount: amount}
}

func sell(bin, amount int64) model.Contribution {
	return model.Contribution{Bin: bin, Side: model.SideSell, Amount: amount}
}

func TestStore_PartitionLifecycle(t *testing.T) {
	s := newTestStore(t)

	_, err := s.OpenExisting(day)
	assert.ErrorIs(t, err, ErrPartitionNotFound)
	_, statErr := os.Stat(filepath.Join(s.dir, "2024-05-01_XAUUSD.db"))
	assert.True(t, os.IsNotExist(statErr), "read path must not create files")

	p, err := s.Partition(day)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", p.Name())

	same, err := s.Partition(day.Add(10 * time.Hour))
	require.NoError(t, err)
	assert.Same(t, p, same)

	existing, err := s.OpenExisting(day)
	require.NoError(t, err)
	assert.Same(t, p, existing)

	next, err := s.Partition(day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, "2024-05-02", next.Name())

	require.NoError(t, s.Close())
	_, err = s.Partition(day)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, s.Close())
}

func TestPartition_UpsertMerges(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Partition(day)
	require.NoError(t, err)

	c1, err := p.Upsert("2024-05-01 09:31:00", []model.Contribution{buy(100, 1), buy(101, 2)})
	require.NoError(t, err)
	c2, err := p.Upsert("2024-05-01 09:31:00", []model.Contribution{sell(100, 3)})
	require.NoError(t, err)
	assert.Equal(t, model.Commit{Partition: "2024-05-01", Sequence: 1}, c1)
	assert.Equal(t, model.Commit{Partition: "2024-05-01", Sequence: 2}, c2)

	history, commit, err := p.RecentHistory(10)
	require.NoError(t, err)
	assert.Equal(t, c2, commit)
	require.Len(t, history, 1)
	assert.Equal(t, model.CandleFootprint{
		CandleKey: "2024-05-01 09:31:00",
		Bins: map[int64]model.BinAggregate{
			100: {Buy: 1, Sell: 3},
			101: {Buy: 2},
		},
	}, history[0])
}

func TestPartition_MergeOrderIndependent(t *testing.T) {
	a := []model.Contribution{buy(100, 4), buy(101, 7)}
	b := []model.Contribution{sell(101, 5), sell(100, 2)}

	apply := func(first, second []model.Contribution) model.CandleFootprint {
		s := newTestStore(t)
		_, err := s.Upsert(day, "2024-05-01 09:31:00", first)
		require.NoError(t, err)
		_, err = s.Upsert(day, "2024-05-01 09:31:00", second)
		require.NoError(t, err)
		history, _, err := s.RecentHistory(day, 1)
		require.NoError(t, err)
		require.Len(t, history, 1)
		return history[0]
	}

	assert.Equal(t, apply(a, b), apply(b, a))
}

func TestPartition_RecentHistoryOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Partition(day)
	require.NoError(t, err)

	keys := []string{
		"2024-05-01 09:33:00",
		"2024-05-01 09:31:00",
		"2024-05-01 10:02:00",
		"2024-05-01 09:59:00",
	}
	for _, k := range keys {
		_, err := p.Upsert(k, []model.Contribution{buy(-3, 1), buy(2000, 1)})
		require.NoError(t, err)
	}

	testCases := []struct {
		name     string
		limit    int
		expected []string
	}{
		{"limit zero", 0, []string{}},
		{"limit two", 2, []string{"2024-05-01 10:02:00", "2024-05-01 09:59:00"}},
		{"limit beyond size", 50, []string{
			"2024-05-01 10:02:00",
			"2024-05-01 09:59:00",
			"2024-05-01 09:33:00",
			"2024-05-01 09:31:00",
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			history, _, err := p.RecentHistory(tc.limit)
			require.NoError(t, err)
			got := make([]string, 0, len(history))
			for _, fp := range history {
				got = append(got, fp.CandleKey)
				assert.Equal(t, model.BinAggregate{Buy: 1}, fp.Bins[-3])
				assert.Equal(t, model.BinAggregate{Buy: 1}, fp.Bins[2000])
			}
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestPartition_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()

	s, err := New(dir, "XAUUSD", zap.NewNop())
	require.NoError(t, err)
	_, err = s.Upsert(day, "2024-05-01 09:31:00", []model.Contribution{sell(99, 8)})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(dir, "XAUUSD", zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	p, err := s.OpenExisting(day)
	require.NoError(t, err)
	history, commit, err := p.RecentHistory(5)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.BinAggregate{Sell: 8}, history[0].Bins[99])
	assert.Equal(t, uint64(1), commit.Sequence)
}

func TestPartition_SnapshotNeverSeesPartialUpsert(t *testing.T) {
	s := newTestStore(t)
	p, err := s.Partition(day)
	require.NoError(t, err)

	const writes = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < writes; i++ {
			_, err := p.Upsert("2024-05-01 09:31:00", []model.Contribution{buy(100, 1), buy(101, 1)})
			assert.NoError(t, err)
		}
	}()

	for i := 0; i < writes; i++ {
		history, commit, err := p.RecentHistory(1)
		require.NoError(t, err)
		if len(history) == 0 {
			continue
		}
		bins := history[0].Bins
		// 两个 Bin 总是在同一事务内写入
		assert.Equal(t, bins[100], bins[101])
		assert.Equal(t, int64(commit.Sequence), bins[100].Buy)
	}
	wg.Wait()
}

func TestBinEncodingPreservesOrder(t *testing.T) {
	bins := []int64{-1 << 40, -101, -1, 0, 1, 99, 100, 1 << 40}
	for i := 1; i < len(bins); i++ {
		prev, curr := encodeBin(bins[i-1]), encodeBin(bins[i])
		assert.Less(t, string(prev), string(curr))
		assert.Equal(t, bins[i], decodeBin(curr))
	}
}

func TestDecodeAggregateRejectsCorruptValue(t *testing.T) {
	_, err := decodeAggregate([]byte{1, 2, 3})
	assert.Error(t, err)
}

// corruptPartition 写入若干 K 线后保留两个 meta 页，其余页面全部覆盖为垃圾
func corruptPartition(t *testing.T, dir string, date time.Time) string {
	t.Helper()
	s, err := New(dir, "XAUUSD", zap.NewNop())
	require.NoError(t, err)
	base := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.Local)
	for i := 0; i < 200; i++ {
		key := base.Add(time.Duration(i) * time.Minute).Format(service.CandleKeyLayout)
		_, err := s.Upsert(date, key, []model.Contribution{buy(2000+int64(i%20), 5), sell(2001, 3)})
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	path := filepath.Join(dir, service.PartitionDate(date)+"_XAUUSD.db")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	pageSize := os.Getpagesize()
	require.Greater(t, len(raw), 2*pageSize)
	for i := 2 * pageSize; i < len(raw); i++ {
		raw[i] = 0xA5
	}
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func TestStore_CorruptPartitionReturnsError(t *testing.T) {
	dir := t.TempDir()
	corruptPartition(t, dir, day)

	s, err := New(dir, "XAUUSD", zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	assert.NotPanics(t, func() {
		_, err = s.ReadRecent(day, 100)
	})
	assert.ErrorIs(t, err, ErrCorrupt)

	// 损坏结果被记住，写路径同样只拿到错误
	assert.NotPanics(t, func() {
		_, err = s.Upsert(day, "2024-05-01 09:31:00", []model.Contribution{buy(100, 1)})
	})
	assert.ErrorIs(t, err, ErrCorrupt)

	// 其它日期不受影响
	_, err = s.Upsert(day.AddDate(0, 0, 1), "2024-05-02 00:00:00", []model.Contribution{buy(100, 1)})
	assert.NoError(t, err)
}

func TestStore_ReadPathDoesNotModifyFiles(t *testing.T) {
	t.Run("zero length file", func(t *testing.T) {
		s := newTestStore(t)
		path := filepath.Join(s.dir, "2024-05-01_XAUUSD.db")
		require.NoError(t, os.WriteFile(path, nil, 0o600))

		_, err := s.ReadRecent(day, 100)
		assert.ErrorIs(t, err, ErrPartitionNotFound)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Zero(t, info.Size())
	})

	t.Run("file without history bucket", func(t *testing.T) {
		s := newTestStore(t)
		path := filepath.Join(s.dir, "2024-05-01_XAUUSD.db")
		db, err := bolt.Open(path, 0o600, nil)
		require.NoError(t, err)
		require.NoError(t, db.Close())

		history, err := s.ReadRecent(day, 100)
		require.NoError(t, err)
		assert.Empty(t, history)

		p, err := s.OpenExisting(day)
		require.NoError(t, err)
		require.NoError(t, p.db.View(func(tx *bolt.Tx) error {
			assert.Nil(t, tx.Bucket(historyBucket))
			return nil
		}))

		// 写入方首次写入时再建 bucket
		commit, err := s.Upsert(day, "2024-05-01 09:31:00", []model.Contribution{buy(100, 1)})
		require.NoError(t, err)
		assert.Equal(t, uint64(1), commit.Sequence)
	})
}

func TestStore_ConcurrentOpenSharesHandle(t *testing.T) {
	s := newTestStore(t)

	const n = 16
	handles := make([]*Partition, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				p, err := s.Partition(day)
				assert.NoError(t, err)
				handles[i] = p
				return
			}
			// 读路径可能早于第一次写入
			p, err := s.OpenExisting(day)
			if err != nil {
				assert.ErrorIs(t, err, ErrPartitionNotFound)
				return
			}
			handles[i] = p
		}(i)
	}
	wg.Wait()

	p, err := s.Partition(day)
	require.NoError(t, err)
	for i, h := range handles {
		if i%2 == 0 {
			require.NotNil(t, h)
		}
		if h != nil {
			assert.Same(t, p, h)
		}
	}
}

func TestStore_SlowReadOpenDoesNotBlockWriter(t *testing.T) {
	s := newTestStore(t)
	yesterday := day.AddDate(0, 0, -1)

	// 外部句柄持有昨天分区的文件锁，读路径的打开会一直等到超时
	holder, err := bolt.Open(filepath.Join(s.dir, "2024-04-30_XAUUSD.db"), 0o600, nil)
	require.NoError(t, err)
	defer holder.Close()

	readerDone := make(chan error, 1)
	go func() {
		_, err := s.ReadRecent(yesterday, 100)
		readerDone <- err
	}()
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	_, err = s.Upsert(day, "2024-05-01 09:31:00", []model.Contribution{buy(100, 1)})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), openTimeout/2)

	assert.Error(t, <-readerDone)
	_, err = s.cached("2024-04-30")
	assert.NoError(t, err, "timeouts are not remembered as corruption")
}
