// Package manifest 描述每次部署生成的资源清单（路径 → 校验和）与应用外壳（Core）列表。
//
// Manifest 在构造后不可变；加载、生成、持久化编码以及请求 URL 到逻辑键的推导都集中在此，
// 供 offline 包在 install/activate/fetch 阶段使用。
package manifest
