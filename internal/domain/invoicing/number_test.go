package invoicing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatNumber(t *testing.T) {
	t.Run("pads both components", func(t *testing.T) {
		assert.Equal(t, "00001-00000040", FormatNumber(1, 40))
		assert.Equal(t, "00032-00000001", FormatNumber(32, 1))
		assert.Equal(t, "99999-99999999", FormatNumber(99999, 99999999))
	})
}

func TestParseSequence(t *testing.T) {
	t.Run("round trips across boundaries", func(t *testing.T) {
		cases := []struct {
			pointOfSale int
			sequence    int64
		}{
			{1, 1},
			{1, 99999999},
			{99999, 1},
			{99999, 99999999},
			{42, 12345678},
			{7, 40},
		}
		for _, tc := range cases {
			t.Run(fmt.Sprintf("pos=%d seq=%d", tc.pointOfSale, tc.sequence), func(t *testing.T) {
				number := FormatNumber(tc.pointOfSale, tc.sequence)

				seq, err := ParseSequence(number)
				require.NoError(t, err)
				assert.Equal(t, tc.sequence, seq)

				pos, err := ParsePointOfSale(number)
				require.NoError(t, err)
				assert.Equal(t, tc.pointOfSale, pos)
			})
		}
	})

	t.Run("uses the suffix after the last dash", func(t *testing.T) {
		seq, err := ParseSequence("00001-00000040")
		require.NoError(t, err)
		assert.Equal(t, int64(40), seq)
	})

	t.Run("rejects malformed numbers", func(t *testing.T) {
		for _, number := range []string{"", "00001", "00001-", "-00000001", "00001-abc", "00001-00000000"} {
			_, err := ParseSequence(number)
			assert.Error(t, err, "number %q should not parse", number)
		}
	})

	t.Run("rejects out of range sequence", func(t *testing.T) {
		_, err := ParseSequence("00001-100000000")
		assert.Error(t, err)
	})
}

func TestPointOfSalePrefix(t *testing.T) {
	assert.Equal(t, "00001-", PointOfSalePrefix(1))
	assert.Equal(t, "00123-", PointOfSalePrefix(123))
}
