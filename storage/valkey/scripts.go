package valkey

// Lua scripts for the operations that must read before they write.
//
// Scripts derive some keys from stored values (the record of a retired token,
// the index entry named by a record's pairId). Those keys are built from the
// prefixes passed in ARGV, so the scripts require a non-clustered deployment
// or a key prefix that pins every key to one slot.

// luaCreateClient inserts a client if the id is free and the owner is under quota.
//
// KEYS[1] = client key
// KEYS[2] = owner client set
// ARGV[1] = max clients per owner (0 = unlimited)
// ARGV[2] = client id
// ARGV[3..] = hash field/value pairs
//
// Returns "OK", "EXISTS" or "QUOTA_EXCEEDED".
const luaCreateClient = `
if redis.call('EXISTS', KEYS[1]) == 1 then
    return 'EXISTS'
end
local max = tonumber(ARGV[1])
if max > 0 and redis.call('SCARD', KEYS[2]) >= max then
    return 'QUOTA_EXCEEDED'
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('SADD', KEYS[2], ARGV[2])
return 'OK'
`

// luaUpdateClient applies field updates only to an existing client so a racing
// delete cannot be resurrected as a partial record.
//
// KEYS[1] = client key
// ARGV    = hash field/value pairs
//
// Returns 1 if updated, 0 if the client does not exist.
const luaUpdateClient = `
if redis.call('EXISTS', KEYS[1]) == 0 then
    return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`

// luaConsumeCode marks an authorization code used. The key TTL is kept.
//
// KEYS[1] = code key
//
// Returns {status, field, value, ...} where status is "OK", "ALREADY_USED" or
// "NOT_FOUND". The fields are the record as it was before this call.
const luaConsumeCode = `
local fields = redis.call('HGETALL', KEYS[1])
if #fields == 0 then
    return {'NOT_FOUND'}
end
local status = 'OK'
for i = 1, #fields, 2 do
    if fields[i] == 'used' and fields[i + 1] == '1' then
        status = 'ALREADY_USED'
    end
end
if status == 'OK' then
    redis.call('HSET', KEYS[1], 'used', '1')
end
local out = {status}
for i = 1, #fields do
    out[#out + 1] = fields[i]
end
return out
`

// luaSaveToken writes a token, its set membership and the reverse index,
// retiring the token the index pointed at before.
//
// KEYS[1] = token key
// KEYS[2] = user token set
// KEYS[3] = reverse index key
// ARGV[1] = token
// ARGV[2] = client id
// ARGV[3] = user id
// ARGV[4] = created at (unix ms)
// ARGV[5] = pair id
// ARGV[6] = token key prefix
//
// Returns the retired token or an empty string.
const luaSaveToken = `
local previous = redis.call('GET', KEYS[3])
if previous and previous ~= ARGV[1] then
    redis.call('DEL', ARGV[6] .. previous)
    redis.call('SREM', KEYS[2], previous)
end
redis.call('HSET', KEYS[1], 'clientId', ARGV[2], 'userId', ARGV[3], 'createdAt', ARGV[4], 'pairId', ARGV[5])
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('SET', KEYS[3], ARGV[1])
if previous and previous ~= ARGV[1] then
    return previous
end
return ''
`

// luaRemoveToken deletes a token. The reverse index is dropped when it points
// at this token or at a record that no longer exists; a live newer token keeps it.
//
// KEYS[1] = token key
// KEYS[2] = user token set
// KEYS[3] = reverse index key
// ARGV[1] = token
// ARGV[2] = token key prefix
//
// Returns 1 if the index was cleared, 0 otherwise.
const luaRemoveToken = `
local indexed = redis.call('GET', KEYS[3])
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[1])
if not indexed then
    return 0
end
if indexed == ARGV[1] then
    redis.call('DEL', KEYS[3])
    return 1
end
if redis.call('EXISTS', ARGV[2] .. indexed) == 0 then
    redis.call('DEL', KEYS[3])
    redis.call('SREM', KEYS[2], indexed)
    return 1
end
return 0
`

// luaConsumeToken deletes a token only if it was issued to the presenting client.
//
// KEYS[1] = token key
// ARGV[1] = token
// ARGV[2] = presenting client id
// ARGV[3] = user token set key prefix
// ARGV[4] = reverse index key prefix
//
// Returns {status, field, value, ...} where status is "OK", "MISMATCH" or
// "NOT_FOUND". Nothing is written on MISMATCH.
const luaConsumeToken = `
local fields = redis.call('HGETALL', KEYS[1])
if #fields == 0 then
    return {'NOT_FOUND'}
end
local record = {}
for i = 1, #fields, 2 do
    record[fields[i]] = fields[i + 1]
end
local out = {'OK'}
for i = 1, #fields do
    out[#out + 1] = fields[i]
end
if record['clientId'] ~= ARGV[2] then
    out[1] = 'MISMATCH'
    return out
end
redis.call('DEL', KEYS[1])
if record['userId'] then
    redis.call('SREM', ARGV[3] .. record['userId'], ARGV[1])
end
if record['pairId'] then
    local idx = ARGV[4] .. record['pairId']
    if redis.call('GET', idx) == ARGV[1] then
        redis.call('DEL', idx)
    end
end
return out
`

// luaRevokeUserTokens removes every token in the given user sets together with
// the index entries that still point at them.
//
// KEYS    = user token sets, one per kind
// ARGV    = for each key in KEYS, the token key prefix then the index key prefix
//
// Returns the number of token records deleted.
const luaRevokeUserTokens = `
local revoked = 0
for k = 1, #KEYS do
    local recordPrefix = ARGV[2 * k - 1]
    local indexPrefix = ARGV[2 * k]
    local tokens = redis.call('SMEMBERS', KEYS[k])
    for _, token in ipairs(tokens) do
        local key = recordPrefix .. token
        local pair = redis.call('HGET', key, 'pairId')
        if pair then
            local idx = indexPrefix .. pair
            if redis.call('GET', idx) == token then
                redis.call('DEL', idx)
            end
        end
        revoked = revoked + redis.call('DEL', key)
    end
    redis.call('DEL', KEYS[k])
end
return revoked
`

// luaFindOrCreateUser links a provider profile to a user, creating the user on
// first sight. The lookup and the link run in one script so concurrent first
// logins with the same profile all adopt the first user.
//
// KEYS[1] = profile key
// ARGV[1] = user key prefix
// ARGV[2] = connections key prefix
// ARGV[3] = user id to link explicitly ("" to look up or create)
// ARGV[4] = candidate id for a new user
// ARGV[5] = profile key (connection set member)
// ARGV[6] = provider
// ARGV[7] = provider id
// ARGV[8] = display name
// ARGV[9] = email
//
// Returns {"OK", userId, created} where created is "1" for a new user,
// {"USER_NOT_FOUND"} for an unknown explicit user, or {"DANGLING", userId}
// when the profile points at a missing user.
const luaFindOrCreateUser = `
local userId = ARGV[3]
local created = '0'
if userId ~= '' then
    if redis.call('EXISTS', ARGV[1] .. userId) == 0 then
        return {'USER_NOT_FOUND'}
    end
else
    local linked = redis.call('HGET', KEYS[1], 'userId')
    if linked then
        if redis.call('EXISTS', ARGV[1] .. linked) == 0 then
            return {'DANGLING', linked}
        end
        userId = linked
    else
        userId = ARGV[4]
        redis.call('HSET', ARGV[1] .. userId, 'id', userId, 'name', ARGV[8], 'email', ARGV[9])
        created = '1'
    end
end
redis.call('HSET', KEYS[1],
    'provider', ARGV[6], 'providerId', ARGV[7],
    'displayName', ARGV[8], 'email', ARGV[9], 'userId', userId)
redis.call('SADD', ARGV[2] .. userId, ARGV[5])
return {'OK', userId, created}
`
