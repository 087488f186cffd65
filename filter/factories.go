package filter

import "github.com/maxpert/objectpack/query"

// Choices returns a list menu filter offering data
func Choices(dataIndex string, data ...Choice) MenuColumn {
	return MenuColumn{
		DataIndex: dataIndex,
		Type:      "list",
		Options:   func() []Choice { return data },
	}
}

// YesNo returns a list menu filter for a boolean field
func YesNo(dataIndex string) MenuColumn {
	return Choices(dataIndex, Choice{Value: 1, Label: "Yes"}, Choice{Value: 0, Label: "No"})
}

// Within returns a filter matching records whose [from, to] range contains
// the entered value.
func Within(dataIndex, from, to string) MenuColumn {
	return MenuColumn{
		DataIndex: dataIndex,
		Type:      "string",
		CustomFunc: func(value any) query.Expr {
			return query.And(query.Q(from+"__lte", value), query.Q(to+"__gte", value))
		},
	}
}
