package store

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// now is the store clock. Tests replace it.
var now = time.Now

// IsDeleted reports whether an item carries an expired TTL. Items that are
// soft-deleted stay readable until DynamoDB reaps them, so every read path
// filters them out.
func IsDeleted(item map[string]types.AttributeValue) bool {
	ttl, ok := numberAttr(item, "ttl")
	if !ok {
		return false
	}
	return ttl <= now().Unix()
}

// numberAttr reads a numeric attribute.
func numberAttr(item map[string]types.AttributeValue, name string) (int64, bool) {
	n, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func unixAttr(sec int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(sec, 10)}
}

// TTLFilterExpr returns the filter expression that excludes deleted items.
func TTLFilterExpr() string {
	return "attribute_not_exists(#ttl) OR #ttl > :now"
}

// TTLFilterNames returns expression attribute names for TTLFilterExpr.
func TTLFilterNames() map[string]string {
	return map[string]string{"#ttl": "ttl"}
}

// TTLFilterValues returns expression attribute values for TTLFilterExpr.
func TTLFilterValues() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{":now": unixAttr(now().Unix())}
}

// ParentExistsCondition is the condition a transaction places on a parent
// entity: it exists and is not deleted.
func ParentExistsCondition() string {
	return "attribute_exists(id) AND (" + TTLFilterExpr() + ")"
}

// mergeExprNames merges multiple expression attribute name maps.
func mergeExprNames(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// mergeExprValues merges multiple expression attribute value maps.
func mergeExprValues(maps ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}
