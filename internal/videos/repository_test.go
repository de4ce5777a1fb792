package videos

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListParams_Normalize(t *testing.T) {
	p := ListParams{}.Normalize()
	assert.Equal(t, ListParams{Page: 1, Limit: 12, SortBy: "created_at", Order: "DESC"}, p)

	p = ListParams{Page: 3, Limit: 500, Category: "All", Search: "  limits ", SortBy: "createdAt", Order: "asc"}.Normalize()
	assert.Equal(t, 3, p.Page)
	assert.Equal(t, MaxLimit, p.Limit)
	assert.Empty(t, p.Category)
	assert.Equal(t, "limits", p.Search)
	assert.Equal(t, "createdAt", p.SortBy)
	assert.Equal(t, "ASC", p.Order)
	assert.Equal(t, 200, p.Offset())

	p = ListParams{SortBy: "id; DROP TABLE videos", Order: "sideways"}.Normalize()
	assert.Equal(t, "created_at", p.SortBy)
	assert.Equal(t, "DESC", p.Order)

	assert.Equal(t, p, p.Normalize())
}

func TestListParams_WhereClause(t *testing.T) {
	where, args := ListParams{}.whereClause()
	assert.Empty(t, where)
	assert.Empty(t, args)

	where, args = ListParams{Category: "Math", Search: "50%_off"}.whereClause()
	assert.Equal(t, " WHERE category = $1 AND (title ILIKE $2 OR description ILIKE $2)", where)
	assert.Equal(t, []interface{}{"Math", `%50\%\_off%`}, args)

	where, args = ListParams{Search: "derivative"}.whereClause()
	assert.Equal(t, " WHERE (title ILIKE $1 OR description ILIKE $1)", where)
	assert.Equal(t, []interface{}{"%derivative%"}, args)
}
