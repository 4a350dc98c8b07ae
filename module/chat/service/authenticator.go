package service

import (
	"context"
	"errors"
	"time"

	"PPDirect/module/chat/model"
	"PPDirect/module/chat/store"
	"PPDirect/tools/errs"
	"PPDirect/tools/security"
)

// Authenticator 握手阶段校验令牌并解析出身份，不修改任何状态
type Authenticator struct {
	opts       security.Options
	identities store.Identities
}

func NewAuthenticator(opts security.Options, identities store.Identities) *Authenticator {
	return &Authenticator{opts: opts, identities: identities}
}

func (a *Authenticator) Authenticate(ctx context.Context, token string) (model.Identity, error) {
	if token == "" {
		return model.Identity{}, errs.ErrAuthentication.WrapMsg("missing token")
	}
	claims, err := security.Verify(a.opts, token)
	if err != nil {
		return model.Identity{}, errs.ErrAuthentication.WrapMsg("invalid token", "err", err.Error())
	}
	sub, err := claims.Subject()
	if err != nil {
		return model.Identity{}, errs.ErrAuthentication.WrapMsg("no subject")
	}
	ident, err := a.identities.GetIdentity(ctx, sub)
	if errors.Is(err, store.ErrNotFound) {
		return model.Identity{}, errs.ErrAuthentication.WrapMsg("unknown identity", "id", sub)
	}
	if err != nil {
		return model.Identity{}, persistErr(err, "load identity", "id", sub)
	}
	return ident, nil
}

// IssueToken 签发令牌，供工具和测试使用；ttl<=0 使用配置的默认值
func (a *Authenticator) IssueToken(identityID string, ttl time.Duration) (string, error) {
	opts := a.opts
	if ttl > 0 {
		opts.TTL = ttl
	}
	tok, _, err := security.Generate(opts, identityID, nil)
	return tok, err
}
