package postgres

const jobColumns = `
    id, platforms, content, adapted_content, image_refs,
    scheduled_for, timezone, status, attempts, max_attempts,
    posting_results, created_at, updated_at, posted_at`

const queryInsertJob = `
INSERT INTO scheduled_jobs (` + jobColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`

const queryGetJobByID = `
SELECT` + jobColumns + `
FROM scheduled_jobs
WHERE id = $1
`

const queryListJobs = `
SELECT` + jobColumns + `
FROM scheduled_jobs
WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC, id
LIMIT $2 OFFSET $3
`

const queryGetDueJobs = `
SELECT` + jobColumns + `
FROM scheduled_jobs
WHERE status = 'scheduled'
  AND scheduled_for <= $1
  AND attempts < max_attempts
ORDER BY scheduled_for, id
LIMIT $2
`

const queryUpdateJob = `
UPDATE scheduled_jobs
SET adapted_content = $2,
    status = $3,
    attempts = $4,
    posting_results = $5,
    updated_at = $6,
    posted_at = $7
WHERE id = $1
  AND attempts = $8
  AND status = 'scheduled'
`

const queryRetryJob = `
UPDATE scheduled_jobs
SET status = 'scheduled',
    max_attempts = $2,
    scheduled_for = $3,
    updated_at = $4
WHERE id = $1
  AND status = $5
  AND attempts = $6
`

const queryCountJobsByStatus = `
SELECT status, COUNT(*)
FROM scheduled_jobs
GROUP BY status
`

const queryPlatformStats = `
SELECT platform, COUNT(*), COALESCE(AVG(performance_score), 0)
FROM platform_posts
WHERE status = 'published'
GROUP BY platform
`

const postColumns = `
    id, job_id, platform, platform_post_id, content, posted_at, status,
    engagement_data, reach_data, performance_score, metrics_updated_at`

const queryInsertPost = `
INSERT INTO platform_posts (id, job_id, platform, platform_post_id, content, posted_at, status)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryListPostsByJob = `
SELECT` + postColumns + `
FROM platform_posts
WHERE job_id = $1
ORDER BY posted_at, platform
`

const queryGetRecentPublishedPosts = `
SELECT` + postColumns + `
FROM platform_posts
WHERE status = 'published'
  AND platform_post_id <> ''
  AND posted_at >= $1
ORDER BY metrics_updated_at NULLS FIRST, posted_at
LIMIT $2
`

const queryUpdatePostMetrics = `
UPDATE platform_posts
SET engagement_data = $2,
    reach_data = $3,
    performance_score = $4,
    metrics_updated_at = $5
WHERE id = $1
`

const queryGetConnection = `
SELECT platform, account_id, access_token, expires_at
FROM platform_connections
WHERE platform = $1
`

const queryUpsertConnection = `
INSERT INTO platform_connections (platform, account_id, access_token, expires_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (platform) DO UPDATE
SET account_id = EXCLUDED.account_id,
    access_token = EXCLUDED.access_token,
    expires_at = EXCLUDED.expires_at,
    updated_at = EXCLUDED.updated_at
`

const queryProbeSchema = `
SELECT COUNT(*)
FROM information_schema.tables
WHERE table_schema = current_schema()
  AND table_name IN ('scheduled_jobs', 'platform_posts', 'platform_connections')
`
