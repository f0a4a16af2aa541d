package redis

const (
	// saveStateScript writes the ledger state unless it would move the byte
	// counter backwards within the same quota period
	saveStateScript = `
local state_key = KEYS[1]     -- kburn:state

local bytes = ARGV[1]
local last_reset_at = ARGV[2]
local updated_at = ARGV[3]

-- Byte counts are unsigned decimal strings; tonumber would round them past 2^53
local function greater(a, b)
  if #a ~= #b then
    return #a > #b
  end
  return a > b
end

local current = redis.call('HMGET', state_key, 'bytes_transferred', 'last_reset_at')
local cur_bytes = current[1]
local cur_reset = current[2]

if cur_bytes and cur_reset then
  -- Same period: bytes must not decrease
  if tonumber(cur_reset) == tonumber(last_reset_at) and greater(cur_bytes, bytes) then
    return 0
  end
  -- Older period than the stored one: ignore
  if tonumber(cur_reset) > tonumber(last_reset_at) then
    return 0
  end
end

redis.call('HSET', state_key,
  'bytes_transferred', bytes,
  'last_reset_at', last_reset_at,
  'updated_at', updated_at
)

return 1
`
)
