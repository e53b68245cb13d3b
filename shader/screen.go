package shader

// ScreenVertex draws a full-screen triangle from gl_VertexID; no vertex
// buffer is bound. Fragment stages receive the screen UV as fragUV.
const ScreenVertex = `
#version 410 core
out vec2 fragUV;
void main() {
    const vec2 pos[3] = vec2[3](
        vec2(-1.0, -1.0),
        vec2( 3.0, -1.0),
        vec2(-1.0,  3.0)
    );
    gl_Position = vec4(pos[gl_VertexID], 0.0, 1.0);
    fragUV      = pos[gl_VertexID] * 0.5 + 0.5;
}
`

// Luminance weights (Rec. 709) shared by the post-process fragment stages.
const LuminanceFunc = `
float luminance(vec3 c) {
    return dot(c, vec3(0.2126, 0.7152, 0.0722));
}
`
