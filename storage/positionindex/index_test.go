package positionindex

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"p2plend/core/events"
	"p2plend/core/types"
	"p2plend/native/lending"
)

var (
	wranglerA = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	wranglerB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func openIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(DriverSQLite, filepath.Join(t.TempDir(), "positions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func positionEvent(wrangler common.Address, position common.Hash, key string, value uint64) types.Event {
	return *lending.PositionUpdated{
		Wrangler: wrangler,
		Position: position,
		Key:      key,
		Value:    uint256.NewInt(value),
	}.Event()
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.ErrorIs(t, err, ErrUnknownDriver)
}

func TestAppendTracksLifecycle(t *testing.T) {
	idx := openIndex(t)
	pos := common.HexToHash("0x01")

	transfer := *events.Transfer{Token: common.HexToAddress("0xf0"), Amount: uint256.NewInt(1)}.Event()
	require.NoError(t, idx.Append(1, []types.Event{
		transfer,
		positionEvent(wranglerA, pos, lending.PositionFieldStatus, uint64(lending.PositionStatusOpen)),
	}))
	require.NoError(t, idx.Append(2, []types.Event{
		positionEvent(wranglerA, pos, lending.PositionFieldCollateralCurrent, 750),
	}))
	require.NoError(t, idx.Append(3, []types.Event{
		positionEvent(wranglerA, pos, lending.PositionFieldStatus, uint64(lending.PositionStatusClosed)),
	}))

	records, err := idx.ByWrangler(wranglerA.Hex(), "", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, pos.Hex(), records[0].Hash)
	require.Equal(t, "closed", records[0].Status)
	require.Equal(t, "750", records[0].CollateralCurrent)
	require.Equal(t, uint64(1), records[0].FirstHeight)
	require.Equal(t, uint64(3), records[0].LastHeight)

	history, err := idx.History(pos.Hex())
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, uint32(1), history[0].Seq)
	require.Equal(t, lending.PositionFieldCollateralCurrent, history[1].Field)
	require.Equal(t, uint64(3), history[2].Height)
}

func TestByWranglerFiltersStatus(t *testing.T) {
	idx := openIndex(t)
	open := uint64(lending.PositionStatusOpen)
	require.NoError(t, idx.Append(1, []types.Event{
		positionEvent(wranglerA, common.HexToHash("0x01"), lending.PositionFieldStatus, open),
		positionEvent(wranglerA, common.HexToHash("0x02"), lending.PositionFieldStatus, open),
		positionEvent(wranglerB, common.HexToHash("0x03"), lending.PositionFieldStatus, open),
	}))
	require.NoError(t, idx.Append(2, []types.Event{
		positionEvent(wranglerA, common.HexToHash("0x02"), lending.PositionFieldStatus, uint64(lending.PositionStatusLiquidated)),
	}))

	all, err := idx.ByWrangler(wranglerA.Hex(), "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, common.HexToHash("0x02").Hex(), all[0].Hash)

	opened, err := idx.ByWrangler(wranglerA.Hex(), "open", 10)
	require.NoError(t, err)
	require.Len(t, opened, 1)
	require.Equal(t, common.HexToHash("0x01").Hex(), opened[0].Hash)
}

func TestAppendRollsBackBatchOnError(t *testing.T) {
	idx := openIndex(t)
	bad := types.Event{Type: lending.EventTypePositionUpdated, Attributes: map[string]string{"key": "status"}}
	err := idx.Append(1, []types.Event{
		positionEvent(wranglerA, common.HexToHash("0x01"), lending.PositionFieldStatus, 1),
		bad,
	})
	require.Error(t, err)

	records, err := idx.ByWrangler(wranglerA.Hex(), "", 0)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestClampLimit(t *testing.T) {
	require.Equal(t, DefaultLimit, clampLimit(0))
	require.Equal(t, 5, clampLimit(5))
	require.Equal(t, MaxLimit, clampLimit(MaxLimit+1))
}
