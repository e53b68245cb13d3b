package deferred

import (
	"deferred-renderer/gpu"
	"deferred-renderer/shader"
)

// ── Shaders ───────────────────────────────────────────────────────────────────

// meshVertSrc: world-space position and normal for the G-buffer.
const meshVertSrc = `
#version 410 core
layout(location = 0) in vec3 inPosition;
layout(location = 1) in vec3 inNormal;
layout(location = 2) in vec2 inUV;

uniform mat4 view_proj;
uniform mat4 model;

out vec3 fragWorldPos;
out vec3 fragNormal;
out vec2 fragUV;

void main() {
    vec4 worldPos = model * vec4(inPosition, 1.0);
    fragWorldPos  = worldPos.xyz;
    fragNormal    = mat3(transpose(inverse(model))) * inNormal;
    fragUV        = inUV;
    gl_Position   = view_proj * worldPos;
}
`

// meshFragSrc: writes the four G-buffer targets. Normal alpha is coverage:
// 1 where geometry was drawn, 0 where the clear value survived.
const meshFragSrc = `
#version 410 core
in vec3 fragWorldPos;
in vec3 fragNormal;
in vec2 fragUV;

layout(location = 0) out vec3 outPosition;
layout(location = 1) out vec3 outAlbedo;
layout(location = 2) out vec4 outNormalCoverage;
layout(location = 3) out vec2 outRoughMetal;

uniform vec3      color;
uniform bool      has_color_texture;
uniform sampler2D color_texture;       // unit 0
uniform vec2      rough_metal;
uniform bool      has_rough_metal_texture;
uniform sampler2D rough_metal_texture; // unit 2, G = roughness, B = metallic
uniform bool      has_normal_texture;
uniform sampler2D normal_texture;      // unit 1
uniform float     normal_amount;

// Tangent frame from screen-space derivatives, so meshes need no tangents.
mat3 cotangentFrame(vec3 N, vec3 p, vec2 uv) {
    vec3 dp1  = dFdx(p);
    vec3 dp2  = dFdy(p);
    vec2 duv1 = dFdx(uv);
    vec2 duv2 = dFdy(uv);
    vec3 dp2perp = cross(dp2, N);
    vec3 dp1perp = cross(N, dp1);
    vec3 T = dp2perp * duv1.x + dp1perp * duv2.x;
    vec3 B = dp2perp * duv1.y + dp1perp * duv2.y;
    float invmax = inversesqrt(max(dot(T, T), dot(B, B)));
    return mat3(T * invmax, B * invmax, N);
}

void main() {
    vec3 albedo = color;
    if (has_color_texture) {
        albedo *= texture(color_texture, fragUV).rgb;
    }

    vec2 rm = rough_metal;
    if (has_rough_metal_texture) {
        rm = texture(rough_metal_texture, fragUV).gb;
    }

    vec3 N = normalize(fragNormal);
    if (has_normal_texture) {
        vec3 mapped    = texture(normal_texture, fragUV).rgb * 2.0 - 1.0;
        vec3 perturbed = normalize(cotangentFrame(N, fragWorldPos, fragUV) * mapped);
        N = normalize(mix(N, perturbed, normal_amount));
    }

    outPosition       = fragWorldPos;
    outAlbedo         = albedo;
    outNormalCoverage = vec4(N, 1.0);
    outRoughMetal     = rm;
}
`

// lightingFragSrc: one light per draw, Cook-Torrance for point and
// directional lights, flat term for ambient ones. Blended additively.
const lightingFragSrc = `
#version 410 core
in  vec2 fragUV;
out vec4 outColor;

uniform sampler2D frame_position;    // unit 0
uniform sampler2D frame_albedo;      // unit 1
uniform sampler2D frame_normal;      // unit 2
uniform sampler2D frame_rough_metal; // unit 3
uniform vec3      camera_pos;

layout(std140) uniform Light {
    uint kind;
    vec3 pos_dir;
    vec3 color;
} light;

const uint KIND_POINT       = 0u;
const uint KIND_DIRECTIONAL = 1u;
const uint KIND_AMBIENT     = 2u;

const float PI = 3.14159265359;

float DistributionGGX(vec3 N, vec3 H, float roughness) {
    float a   = roughness * roughness;
    float a2  = a * a;
    float NdH = max(dot(N, H), 0.0);
    float d   = NdH * NdH * (a2 - 1.0) + 1.0;
    return a2 / (PI * d * d);
}

float GeometrySchlickGGX(float cosTheta, float roughness) {
    float r = roughness + 1.0;
    float k = (r * r) / 8.0;
    return cosTheta / (cosTheta * (1.0 - k) + k);
}

float GeometrySmith(float NdV, float NdL, float roughness) {
    return GeometrySchlickGGX(NdV, roughness) * GeometrySchlickGGX(NdL, roughness);
}

vec3 FresnelSchlick(float cosTheta, vec3 F0) {
    return F0 + (1.0 - F0) * pow(clamp(1.0 - cosTheta, 0.0, 1.0), 5.0);
}

vec3 evalPBR(vec3 N, vec3 V, vec3 L, vec3 rad, vec3 albedo, float metallic, float roughness) {
    float NdL = max(dot(N, L), 0.0);
    if (NdL <= 0.0) return vec3(0.0);

    vec3  H   = normalize(V + L);
    float NdV = max(dot(N, V), 0.0);
    vec3  F0  = mix(vec3(0.04), albedo, metallic);

    float D = DistributionGGX(N, H, roughness);
    float G = GeometrySmith(NdV, NdL, roughness);
    vec3  F = FresnelSchlick(max(dot(H, V), 0.0), F0);

    vec3 kD       = (vec3(1.0) - F) * (1.0 - metallic);
    vec3 specular = D * G * F / max(4.0 * NdV * NdL, 0.001);

    return (kD * albedo / PI + specular) * rad * NdL;
}

void main() {
    vec4 nc = texture(frame_normal, fragUV);
    if (nc.w < 0.5) discard;

    vec3  P         = texture(frame_position, fragUV).xyz;
    vec3  albedo    = texture(frame_albedo, fragUV).rgb;
    vec2  rm        = texture(frame_rough_metal, fragUV).rg;
    float roughness = clamp(rm.x, 0.04, 1.0);
    float metallic  = rm.y;
    vec3  N         = normalize(nc.xyz);
    vec3  V         = normalize(camera_pos - P);

    vec3 result;
    if (light.kind == KIND_AMBIENT) {
        result = light.color * albedo * (1.0 - 0.5 * metallic);
    } else if (light.kind == KIND_POINT) {
        vec3  d     = light.pos_dir - P;
        float dist2 = max(dot(d, d), 1e-4);
        result = evalPBR(N, V, d * inversesqrt(dist2), light.color / dist2, albedo, metallic, roughness);
    } else {
        result = evalPBR(N, V, -normalize(light.pos_dir), light.color, albedo, metallic, roughness);
    }
    outColor = vec4(result, 1.0);
}
`

// blitFragSrc: copies one G-buffer target for inspection.
const blitFragSrc = `
#version 410 core
in  vec2 fragUV;
out vec4 outColor;

uniform sampler2D in_texture;

void main() {
    outColor = vec4(texture(in_texture, fragUV).rgb, 1.0);
}
`

// skyVertSrc: full-screen triangle pinned to the far plane so it only lands
// where the G-buffer depth still holds its clear value.
const skyVertSrc = `
#version 410 core
out vec2 fragNDC;
void main() {
    const vec2 pos[3] = vec2[3](
        vec2(-1.0, -1.0),
        vec2( 3.0, -1.0),
        vec2(-1.0,  3.0)
    );
    fragNDC     = pos[gl_VertexID];
    gl_Position = vec4(pos[gl_VertexID], 1.0, 1.0);
}
`

// skyFragSrc: gradient sky. In illumination mode it lights the G-buffer
// with the gradient sampled along each surface normal instead.
const skyFragSrc = `
#version 410 core
in  vec2 fragNDC;
out vec4 outColor;

uniform mat4      inv_view_proj;
uniform vec3      camera_pos;
uniform vec3      horizon_color;
uniform vec3      zenith_color;
uniform vec3      ground_color;
uniform bool      is_illumination;
uniform sampler2D frame_normal; // unit 0
uniform sampler2D frame_albedo; // unit 1

vec3 sampleSky(vec3 dir) {
    float t = clamp(dir.y, -1.0, 1.0);
    if (t >= 0.0) {
        return mix(horizon_color, zenith_color, pow(t, 0.4));
    }
    return mix(horizon_color, ground_color, min(-t * 3.0, 1.0));
}

void main() {
    if (is_illumination) {
        vec2 uv = fragNDC * 0.5 + 0.5;
        vec4 nc = texture(frame_normal, uv);
        if (nc.w < 0.5) discard;
        vec3 albedo = texture(frame_albedo, uv).rgb;
        outColor = vec4(sampleSky(normalize(nc.xyz)) * albedo, 1.0);
        return;
    }
    vec4 world = inv_view_proj * vec4(fragNDC, 1.0, 1.0);
    vec3 dir   = normalize(world.xyz / world.w - camera_pos);
    outColor = vec4(sampleSky(dir), 1.0);
}
`

// MaterialSource is the G-buffer program every material draws with unless it
// brings its own.
func MaterialSource(name string) gpu.ProgramSource {
	return gpu.ProgramSource{Name: name, Vertex: meshVertSrc, Fragment: meshFragSrc}
}

// NewMaterialProgram compiles MaterialSource.
func NewMaterialProgram(dev gpu.Device, name string) (*shader.Program, error) {
	return shader.New(dev, MaterialSource(name))
}

func lightingSource() gpu.ProgramSource {
	return gpu.ProgramSource{Name: "deferred.lighting", Vertex: shader.ScreenVertex, Fragment: lightingFragSrc}
}

func blitSource() gpu.ProgramSource {
	return gpu.ProgramSource{Name: "deferred.blit", Vertex: shader.ScreenVertex, Fragment: blitFragSrc}
}

func skySource() gpu.ProgramSource {
	return gpu.ProgramSource{Name: "deferred.sky", Vertex: skyVertSrc, Fragment: skyFragSrc}
}
