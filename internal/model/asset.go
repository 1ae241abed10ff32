package model

import (
	"fmt"
	"strings"
)

// AssetType 资产类型
type AssetType string

const (
	AssetTypeNative AssetType = "native" // 链原生币
	AssetTypeERC20  AssetType = "erc20"  // 同质化代币
	AssetTypeNFT    AssetType = "nft"    // 非同质化代币
)

// AllAssetTypes 全部资产类型，按展示顺序
var AllAssetTypes = []AssetType{AssetTypeNative, AssetTypeERC20, AssetTypeNFT}

// ParseAssetType 解析资产类型
func ParseAssetType(s string) (AssetType, error) {
	t := AssetType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown asset type %q", s)
	}
	return t, nil
}

// Valid 是否为已知类型
func (t AssetType) Valid() bool {
	switch t {
	case AssetTypeNative, AssetTypeERC20, AssetTypeNFT:
		return true
	}
	return false
}

func (t AssetType) String() string {
	return string(t)
}
