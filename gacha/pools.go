package gacha

// Character pool type keys as used by the record API.
const (
	SpecialPoolKey  = "E_CharacterGachaPoolType_Special"
	StandardPoolKey = "E_CharacterGachaPoolType_Standard"
	BeginnerPoolKey = "E_CharacterGachaPoolType_Beginner"
)

// PoolTypes lists the character pools in sync and display order.
var PoolTypes = []string{SpecialPoolKey, StandardPoolKey, BeginnerPoolKey}

// PoolNameMap holds the display names of the known character pool types.
var PoolNameMap = map[string]string{
	SpecialPoolKey:  "限定寻访",
	StandardPoolKey: "基础寻访",
	BeginnerPoolKey: "启程寻访",
}

// PoolDisplayName resolves a pool key to its display name, or the key itself.
func PoolDisplayName(poolKey string) string {
	if name, ok := PoolNameMap[poolKey]; ok {
		return name
	}
	return poolKey
}

// IsKnownPoolType reports whether key is one of PoolTypes.
func IsKnownPoolType(key string) bool {
	_, ok := PoolNameMap[key]
	return ok
}
