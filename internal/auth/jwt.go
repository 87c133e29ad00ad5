// Package auth validates bearer tokens issued by the external identity
// provider. This service never mints tokens or stores credentials; the token's
// subject is the user's uuid and is taken as the acting identity.
package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims 是 JWT 中的自定义声明，嵌入了 jwt.RegisteredClaims。
// Subject carries the externally issued user id (uuid). Email and DisplayName
// are copied from the provider so the profile can be bootstrapped on first
// contact.
type Claims struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the validated uuid subject.
func (c *Claims) UserID() string {
	return c.Subject
}

// ValidateToken 验证给定的 JWT 字符串的有效性并返回 Claims。
// issuer 为空时不校验签发者。
func ValidateToken(tokenString, jwtKey, issuer string) (*Claims, error) {
	claims := &Claims{}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("非预期的签名算法: %v", token.Header["alg"])
		}
		return []byte(jwtKey), nil
	}, opts...)

	if err != nil {
		return nil, fmt.Errorf("解析或验证 JWT 失败: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("JWT 无效")
	}

	// 主体必须是外部签发的 uuid 身份
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, fmt.Errorf("JWT subject 不是有效的用户标识: %w", err)
	}

	return claims, nil
}
