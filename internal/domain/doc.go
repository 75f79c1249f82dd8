// Package domain models European air quality observations and environmental
// challenge scores.
//
// # Data Sources
//
// Hourly pollutant readings come from two independent providers:
//
//	EEA (European Environment Agency): the primary source. Open endpoint,
//	no authentication, returns verified hourly station data. Pollutants are
//	identified by numeric vocabulary codes: 5 = PM2.5, 8 = NO2. Station
//	records carry no coordinates on this endpoint.
//
//	OpenAQ v3: the fallback source, queried only when the primary returns
//	fewer records than the sufficiency threshold. Requires an API key and is
//	rate limited (60 requests/minute, 2000/hour); every call is routed
//	through the process-local rate limiter.
//
// Heat, flood, and wildfire signals arrive as Meteoalarm-style alert events
// on a Kafka feed rather than from sensor stations.
//
// # AQI Banding
//
// Bands follow WHO short-term guideline values, provider-independent:
//
//	PM2.5: >25 µg/m³ unhealthy | >15 moderate | else good
//	NO2:   >40 µg/m³ unhealthy | >25 moderate | else good
//
// # Identity and Idempotency
//
// An observation is uniquely identified by (station_id, pollutant,
// observed_at). The same triple is used for in-memory deduplication during a
// cycle and for the store's ON CONFLICT DO NOTHING insert, so replaying a
// cycle with identical provider payloads never inflates the stored count.
// Observations are immutable once stored.
//
// # Region Mapping
//
// Region codes equal ISO country codes. Sub-national resolution is a
// deliberate non-goal at this stage; the mapping lives in one place
// ([ResolveRegion]) so a finer-grained scheme can replace it later.
package domain
