package store

// Queries target the Nsight Systems SQLite export schema. "end" is quoted
// because it is reserved in PostgreSQL; {lo} and {hi} are replaced with the
// driver's numbered placeholders. The window predicate matches
// trace.Window.Overlaps.

const queryKernelOrigin = `SELECT MIN(start) FROM CUPTI_ACTIVITY_KIND_KERNEL`

const queryMemcpyOrigin = `SELECT MIN(start) FROM CUPTI_ACTIVITY_KIND_MEMCPY`

const querySessionStart = `SELECT utcEpochNs FROM TARGET_INFO_SESSION_START_TIME LIMIT 1`

const queryKernels = `
SELECT k.start, k."end", k.deviceId, k.streamId,
       k.gridX, k.gridY, k.gridZ,
       k.blockX, k.blockY, k.blockZ,
       s.value
FROM CUPTI_ACTIVITY_KIND_KERNEL AS k
LEFT JOIN StringIds AS s ON k.demangledName = s.id
WHERE (k."end" > {lo} OR (k."end" = k.start AND k.start = {lo})) AND k.start < {hi}
ORDER BY k.start`

const queryMemcpy = `
SELECT m.start, m."end", m.deviceId, m.streamId,
       m.correlationId, m.bytes, m.copyKind, m.srcKind, m.dstKind
FROM CUPTI_ACTIVITY_KIND_MEMCPY AS m
WHERE (m."end" > {lo} OR (m."end" = m.start AND m.start = {lo})) AND m.start < {hi}
ORDER BY m.start`

const queryRuntime = `
SELECT r.start, r."end", r.correlationId, s.value
FROM CUPTI_ACTIVITY_KIND_RUNTIME AS r
LEFT JOIN StringIds AS s ON r.nameId = s.id
WHERE (r."end" > {lo} OR (r."end" = r.start AND r.start = {lo})) AND r.start < {hi}
ORDER BY r.start`
