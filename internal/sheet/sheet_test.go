package sheet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const purchaseCSV = "\uFEFFSKU,ASIN,数量,ステータス,納品プラン\n" +
	"A-1,B001,3,納品中,wf-1\n" +
	"A-2,B002,1,在庫あり,\n" +
	"A-3,B003,2,納品中,\"=HYPERLINK(\"\"https://x/?wf=wf-3\"\",\"\"wf-3\"\")\"\n"

func writeSheet(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "purchase.csv")
	require.NoError(t, os.WriteFile(path, []byte(purchaseCSV), 0o644))
	return path
}

func TestLoadAndFilter(t *testing.T) {
	s, err := Load(writeSheet(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"SKU", "ASIN", "数量", "ステータス", "納品プラン"}, s.Header())

	rows := s.Rows()
	require.Len(t, rows, 3)
	assert.Equal(t, 2, rows[0].Number())
	assert.Equal(t, "A-1", rows[0].Get("SKU"))
	assert.Equal(t, "", rows[0].Get("missing"))

	inTransit := s.Filter("ステータス", "納品中")
	require.Len(t, inTransit, 2)
	assert.Equal(t, 4, inTransit[1].Number())
	assert.Equal(t, `=HYPERLINK("https://x/?wf=wf-3","wf-3")`, inTransit[1].Get("納品プラン"))
}

func TestSelect(t *testing.T) {
	s, err := Load(writeSheet(t))
	require.NoError(t, err)

	rows, err := s.Select([]int{2, 4})
	require.NoError(t, err)
	assert.Equal(t, "A-3", rows[1].Get("SKU"))

	_, err = s.Select([]int{1})
	assert.Error(t, err)
	_, err = s.Select([]int{5})
	assert.Error(t, err)
}

func TestSetAndSave(t *testing.T) {
	path := writeSheet(t)
	s, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, s.Set(3, "納品プラン", "wf-2"))
	require.NoError(t, s.Rows()[0].Set("ステータス推測値", "在庫あり"))
	assert.Error(t, s.Set(9, "SKU", "x"))
	require.NoError(t, s.Save())

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, reloaded.HasColumn("ステータス推測値"))
	assert.Equal(t, "wf-2", reloaded.Rows()[1].Get("納品プラン"))
	assert.Equal(t, "在庫あり", reloaded.Rows()[0].Get("ステータス推測値"))
	assert.Equal(t, "", reloaded.Rows()[2].Get("ステータス推測値"))
}

func TestParseRowSpec(t *testing.T) {
	rows, err := ParseRowSpec("5, 2-4,3", 10)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4, 5}, rows)

	for _, bad := range []string{"", "a", "4-2", "2-x", "1", "9-11", "2-2000000000"} {
		_, err := ParseRowSpec(bad, 10)
		assert.Error(t, err, bad)
	}
}
