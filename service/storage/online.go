package storage

import (
	"context"
	"fmt"
	"time"

	"PPDirect/tools/errs"

	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ===== 配置 =====
type OnlineConfig struct {
	NodeID        string        // 节点ID（参与key命名）
	TTL           time.Duration // 会话TTL，心跳续期
	ChannelName   string        // 会话上下线通知频道，空则不发布
	UseClusterTag bool          // 是否使用Redis Cluster hash-tag对齐
	UseEXAT       bool          // 使用EXPIREAT（更精准）
	UserIndexTTL  time.Duration // 身份索引的兜底 TTL
}

func (c *OnlineConfig) norm() {
	if c.NodeID == "" {
		c.NodeID = "node"
	}
	if c.TTL <= 0 {
		c.TTL = 90 * time.Second
	}
	if c.UserIndexTTL <= 0 {
		c.UserIndexTTL = time.Hour
	}
}

// ===== Lua 脚本 =====

// 会话上线
// KEYS[1] = identity index key
// ARGV[1] = session key
// ARGV[2] = ttlSeconds
// ARGV[3] = expireAtUnix
// ARGV[4] = useEXAT(0/1)
// ARGV[5] = indexTtlSeconds
// 返回：当前有效会话数
const luaSessionUp = `
local userZ   = KEYS[1]
local kConn   = ARGV[1]
local ttl     = tonumber(ARGV[2])
local expAt   = tonumber(ARGV[3])
local useEXAT = tonumber(ARGV[4])
local idxTtl  = tonumber(ARGV[5])

if useEXAT == 1 then
  redis.call("SET", kConn, "1")
  redis.call("EXPIREAT", kConn, expAt)
else
  redis.call("SET", kConn, "1", "EX", ttl)
end
redis.call("ZADD", userZ, expAt, kConn)
redis.call("EXPIRE", userZ, idxTtl)
return redis.call("ZCARD", userZ)
`

// 单会话离线（删除会话键 + 从身份索引移除）
// KEYS[1] = identity index key
// ARGV[1] = session key
// 返回：1=删掉了会话键；0=会话键不存在（幂等）
const luaOfflineOne = `
local userZ = KEYS[1]
local kConn = ARGV[1]
local existed = redis.call("DEL", kConn)
redis.call("ZREM", userZ, kConn)
return existed
`

// 心跳续期；会话键不存在返回 0（已过期/被清理），由调用方重新上线
// KEYS[1] = identity index key
// KEYS[2] = session key
// ARGV[1] = ttlSec
// ARGV[2] = nowUnix
// ARGV[3] = expAt
// ARGV[4] = useEXAT
// ARGV[5] = indexTtlSeconds
const luaHeartbeat = `
local zUser   = KEYS[1]
local kConn   = KEYS[2]
local ttlSec  = tonumber(ARGV[1])
local nowUnix = tonumber(ARGV[2])
local expAt   = tonumber(ARGV[3])
local useEXAT = tonumber(ARGV[4]) == 1
local idxTtl  = tonumber(ARGV[5])

if redis.call('EXISTS', kConn) == 0 then
  return 0
end

if useEXAT then
  redis.call('EXPIREAT', kConn, expAt)
else
  redis.call('EXPIRE', kConn, ttlSec)
end

redis.call('ZREMRANGEBYSCORE', zUser, '-inf', nowUnix)
redis.call('ZADD', zUser, expAt, kConn)
redis.call('EXPIRE', zUser, idxTtl)
return 1
`

// 清理过期并返回在线标志与数量
// KEYS[1] = identity index key
// ARGV[1] = nowUnix
// 返回：数组 [在线标志(0/1), 数量]
const luaIsOnline = `
local userZ = KEYS[1]
local now   = tonumber(ARGV[1])

local victims = redis.call("ZRANGEBYSCORE", userZ, "-inf", now)
for _, v in ipairs(victims) do
  redis.call("ZREM", userZ, v)
  redis.call("DEL", v)
end

local cnt = redis.call("ZCOUNT", userZ, now + 1, "+inf")
if cnt > 0 then
  return {1, cnt}
else
  return {0, 0}
end
`

// 清理过期并返回所有有效会话键
// KEYS[1] = identity index key
// ARGV[1] = nowUnix
const luaGetActiveAndSweep = `
local userZ = KEYS[1]
local now   = tonumber(ARGV[1])

local victims = redis.call("ZRANGEBYSCORE", userZ, "-inf", now)
for _, v in ipairs(victims) do
  redis.call("ZREM", userZ, v)
  redis.call("DEL", v)
end

return redis.call("ZRANGEBYSCORE", userZ, now + 1, "+inf")
`

// OnlineStore 连接会话在 redis 中的镜像，供运维和其他进程查询；
// 在线状态的权威来源仍是进程内注册表。
type OnlineStore struct {
	conf OnlineConfig
	rdb  redis.UniversalClient

	luaUp                *redis.Script
	luaOfflineOne        *redis.Script
	luaHeartbeat         *redis.Script
	luaIsOnline          *redis.Script
	luaGetActiveAndSweep *redis.Script
}

func NewOnlineStore(rdb redis.UniversalClient, conf OnlineConfig) *OnlineStore {
	conf.norm()
	return &OnlineStore{
		conf:                 conf,
		rdb:                  rdb,
		luaUp:                redis.NewScript(luaSessionUp),
		luaOfflineOne:        redis.NewScript(luaOfflineOne),
		luaHeartbeat:         redis.NewScript(luaHeartbeat),
		luaIsOnline:          redis.NewScript(luaIsOnline),
		luaGetActiveAndSweep: redis.NewScript(luaGetActiveAndSweep),
	}
}

// ===== Key 构造 =====

// 会话键
// UseClusterTag=true: n:{<node>:<identity>}:id:<session>
// false:              n:<node>:id:<session>:u:<identity>
func (m *OnlineStore) sessionKey(identityID, sessionID string) string {
	if m.conf.UseClusterTag {
		return fmt.Sprintf("n:{%s:%s}:id:%s", m.conf.NodeID, identityID, sessionID)
	}
	return fmt.Sprintf("n:%s:id:%s:u:%s", m.conf.NodeID, sessionID, identityID)
}

// 身份索引ZSET（member=会话key, score=expireAtUnix）
// UseClusterTag=true: nidx:{<node>:<identity>}
// false:              nidx:<node>:u:<identity>
func (m *OnlineStore) userIndexKey(identityID string) string {
	if m.conf.UseClusterTag {
		return fmt.Sprintf("nidx:{%s:%s}", m.conf.NodeID, identityID)
	}
	return fmt.Sprintf("nidx:%s:u:%s", m.conf.NodeID, identityID)
}

func secs(d time.Duration) int64 { return int64(d / time.Second) }

// SessionUp 登记一条会话
func (m *OnlineStore) SessionUp(ctx context.Context, identityID, sessionID string) error {
	kConn := m.sessionKey(identityID, sessionID)
	expAt := time.Now().Add(m.conf.TTL).Unix()
	n, err := m.luaUp.Run(ctx, m.rdb,
		[]string{m.userIndexKey(identityID)},
		kConn, secs(m.conf.TTL), expAt, boolToInt(m.conf.UseEXAT), secs(m.conf.UserIndexTTL),
	).Int64()
	if err != nil {
		return errs.WrapMsg(err, "session up", "identity", identityID, "session", sessionID)
	}
	m.publish(ctx, fmt.Sprintf("SESSION_UP:%s:%s:%d", identityID, sessionID, n))
	return nil
}

// SessionDown 单个会话下线（幂等）
func (m *OnlineStore) SessionDown(ctx context.Context, identityID, sessionID string) error {
	kConn := m.sessionKey(identityID, sessionID)
	rc, err := m.luaOfflineOne.Run(ctx, m.rdb, []string{m.userIndexKey(identityID)}, kConn).Int64()
	if err != nil {
		return errs.WrapMsg(err, "session down", "identity", identityID, "session", sessionID)
	}
	if rc == 1 {
		m.publish(ctx, fmt.Sprintf("SESSION_DOWN:%s:%s", identityID, sessionID))
	}
	return nil
}

// Heartbeat 续期；键已过期时重新登记
func (m *OnlineStore) Heartbeat(ctx context.Context, identityID, sessionID string) error {
	kConn := m.sessionKey(identityID, sessionID)
	now := time.Now()
	rc, err := m.luaHeartbeat.Run(ctx, m.rdb,
		[]string{m.userIndexKey(identityID), kConn},
		secs(m.conf.TTL), now.Unix(), now.Add(m.conf.TTL).Unix(), boolToInt(m.conf.UseEXAT), secs(m.conf.UserIndexTTL),
	).Int64()
	if err != nil {
		return errs.WrapMsg(err, "session heartbeat", "identity", identityID, "session", sessionID)
	}
	switch rc {
	case 1:
		return nil
	case 0:
		return m.SessionUp(ctx, identityID, sessionID)
	default:
		return pkgerrors.Errorf("unexpected hb rc=%d", rc)
	}
}

// IsOnline 判断身份是否有有效会话，并返回数量（顺带清理过期）
func (m *OnlineStore) IsOnline(ctx context.Context, identityID string) (online bool, count int64, err error) {
	vals, e := m.luaIsOnline.Run(ctx, m.rdb, []string{m.userIndexKey(identityID)}, time.Now().Unix()).Int64Slice()
	if e != nil {
		return false, 0, errs.WrapMsg(e, "is online", "identity", identityID)
	}
	if len(vals) >= 2 {
		return vals[0] == 1, vals[1], nil
	}
	return false, 0, nil
}

// ActiveSessions 身份所有仍有效的会话键
func (m *OnlineStore) ActiveSessions(ctx context.Context, identityID string) ([]string, error) {
	actives, err := m.luaGetActiveAndSweep.Run(ctx, m.rdb, []string{m.userIndexKey(identityID)}, time.Now().Unix()).StringSlice()
	if err != nil {
		return nil, errs.WrapMsg(err, "active sessions", "identity", identityID)
	}
	return actives, nil
}

func (m *OnlineStore) publish(ctx context.Context, payload string) {
	if m.conf.ChannelName == "" {
		return
	}
	_ = m.rdb.Publish(ctx, m.conf.ChannelName, payload).Err()
}

// ===== 工具 =====
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
