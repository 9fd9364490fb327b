package zilliz

import (
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
)

func TestNamespaceExpr(t *testing.T) {
	assert.Equal(t, `namespace == "Paul Holmes"`, NamespaceExpr("Paul Holmes"))
	assert.Equal(t, `namespace == "O\"Brien \\ Co"`, NamespaceExpr(`O"Brien \ Co`))
}

func TestColumnString(t *testing.T) {
	col := entity.NewColumnVarChar(fieldText, []string{"first", "second"})

	assert.Equal(t, "second", columnString(col, 1))
	assert.Empty(t, columnString(col, 5))
	assert.Empty(t, columnString(nil, 0))
}

func TestTruncateKeepsRunes(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "a", truncate("aé", 2))
}
