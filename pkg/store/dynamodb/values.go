package dynamodb

import (
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/heartline/keyset/pkg/pagination"
)

// TimeLayout stores times as fixed-width UTC strings so they sort
// lexicographically in range keys.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// AttributeValue converts a cursor or filter value into its DynamoDB form.
func AttributeValue(v any) (types.AttributeValue, error) {
	switch x := pagination.Normalize(v).(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case string:
		return &types.AttributeValueMemberS{Value: x}, nil
	case bool:
		return &types.AttributeValueMemberBOOL{Value: x}, nil
	case int64:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(x, 10)}, nil
	case uint64:
		return &types.AttributeValueMemberN{Value: strconv.FormatUint(x, 10)}, nil
	case float64:
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(x, 'g', -1, 64)}, nil
	case time.Time:
		return &types.AttributeValueMemberS{Value: x.UTC().Format(TimeLayout)}, nil
	default:
		return nil, fmt.Errorf("%w: %T", pagination.ErrUnsupportedValue, v)
	}
}

// Value converts an attribute into a plain Go value. Numbers become int64
// when integral and float64 otherwise; binary and set types are returned as
// their SDK values.
func Value(av types.AttributeValue) any {
	switch x := av.(type) {
	case *types.AttributeValueMemberS:
		return x.Value
	case *types.AttributeValueMemberN:
		if n, err := strconv.ParseInt(x.Value, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(x.Value, 64); err == nil {
			return f
		}
		return x.Value
	case *types.AttributeValueMemberBOOL:
		return x.Value
	case *types.AttributeValueMemberNULL:
		return nil
	case *types.AttributeValueMemberM:
		return Document(x.Value)
	case *types.AttributeValueMemberL:
		out := make([]any, len(x.Value))
		for i, v := range x.Value {
			out[i] = Value(v)
		}
		return out
	case *types.AttributeValueMemberB:
		return x.Value
	case *types.AttributeValueMemberSS:
		return x.Value
	case *types.AttributeValueMemberNS:
		return x.Value
	default:
		return nil
	}
}

// Document converts a raw item into a map of plain values.
func Document(item map[string]types.AttributeValue) map[string]any {
	out := make(map[string]any, len(item))
	for k, v := range item {
		out[k] = Value(v)
	}
	return out
}
