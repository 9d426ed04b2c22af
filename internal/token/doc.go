// Package token validates RS256 bearer tokens against certificate keys and
// reports typed rejection reasons.
package token
