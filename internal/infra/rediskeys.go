package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "honeyagent"
)

// Ключи векторного хранилища отпечатков
const (
	RedisKeyVectorIndex  = RedisNamespace + ":vectors:index"
	RedisKeyVectorPrefix = RedisNamespace + ":vectors:"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanKeysRotated IdP сменил ключи подписи, шлюз должен перечитать JWKS.
	RedisChanKeysRotated = RedisNamespace + ":identity:keys-rotated"
)

// Сожженные субъекты: оператор пометил токен как скомпрометированный
const (
	RedisKeyBlockedSubjects = RedisNamespace + ":policy:blocked_set"
	// Формат сообщения "subject_id:on" / "subject_id:off"
	RedisChanSubjectBlocked = RedisNamespace + ":policy:block-signal"
)
